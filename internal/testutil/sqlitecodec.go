package testutil

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteKVCodec is a FakeCodec whose versioned files are SQLite databases
// holding one kv table, so a base copy can be opened as a reference database.
// Changesets are listed the same way; applying them is not supported.
type SQLiteKVCodec struct {
	FakeCodec
}

// WriteKVDatabase replaces the file at path with a database holding records.
func WriteKVDatabase(t *testing.T, path string, records map[string]string) {
	t.Helper()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE kv ("key" TEXT PRIMARY KEY, "value" TEXT)`); err != nil {
		t.Fatal(err)
	}
	for k, v := range records {
		if _, err := db.Exec(`INSERT INTO kv ("key", "value") VALUES (?, ?)`, k, v); err != nil {
			t.Fatal(err)
		}
	}
}

func readKVTable(ctx context.Context, path string) (map[string]string, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT "key", "value" FROM kv`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (c *SQLiteKVCodec) ComputeChangeset(ctx context.Context, base, modified, changeset string) error {
	a, err := readKVTable(ctx, base)
	if err != nil {
		return err
	}
	b, err := readKVTable(ctx, modified)
	if err != nil {
		return err
	}
	return writeChangeset(a, b, changeset)
}

func (c *SQLiteKVCodec) ApplyChangeset(ctx context.Context, target, changeset string) error {
	return errors.New("applying changesets to SQLite files is not supported")
}

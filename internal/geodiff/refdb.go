package geodiff

import (
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// ReferenceDB reads base rows from a GeoPackage opened read-only.
type ReferenceDB struct {
	db *sql.DB
}

// OpenReference opens the SQLite file at path without write access.
func OpenReference(path string) (*ReferenceDB, error) {
	dsn, err := readOnlyDSN(path)
	if err != nil {
		return nil, fmt.Errorf("opening reference %s: %w", path, err)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening reference %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening reference %s: %w", path, err)
	}
	return &ReferenceDB{db: db}, nil
}

// readOnlyDSN builds a file: URI for path. Characters such as '#', '?' and
// '%' are escaped so sqlite does not read them as URI syntax.
func readOnlyDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: "mode=ro"}
	return u.String(), nil
}

func (r *ReferenceDB) Close() error {
	return r.db.Close()
}

// Row returns the single row whose primary key equals keys.
func (r *ReferenceDB) Row(table *TableSchema, keys []any) ([]any, error) {
	pk := table.PrimaryKeyIndices()
	if len(pk) != len(keys) {
		return nil, fmt.Errorf("%w: %d key values for %d key columns", ErrMissingKey, len(keys), len(pk))
	}

	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = quoteIdent(c.Name)
	}
	conds := make([]string, len(pk))
	for i, idx := range pk {
		conds[i] = quoteIdent(table.Columns[idx].Name) + " = ?"
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT 2",
		strings.Join(cols, ", "), quoteIdent(table.Name), strings.Join(conds, " AND "))

	rows, err := r.db.Query(query, keys...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table.Name, err)
	}
	defer rows.Close()

	var result []any
	for rows.Next() {
		if result != nil {
			return nil, fmt.Errorf("%w: table %q key %v", ErrAmbiguousRow, table.Name, keys)
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table.Name, err)
		}
		result = values
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying %s: %w", table.Name, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: table %q key %v", ErrRowNotFound, table.Name, keys)
	}
	return result, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

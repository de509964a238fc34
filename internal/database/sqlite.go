package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"geosync/internal/database/migrations"
	"geosync/internal/geosync"
	"geosync/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Operation statuses.
const (
	StatusRunning   = "running"
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// MetadataStore implements geosync.MetadataStore using SQLite. It also
// records sync operations for the history command.
type MetadataStore struct {
	db    *sql.DB
	path  string
	clock geosync.Clock
}

var _ geosync.MetadataStore = (*MetadataStore)(nil)

// NewMetadataStore opens the database at path and migrates it to the latest
// schema. path can be a file path or ":memory:" for in-memory database.
func NewMetadataStore(path string, clock geosync.Clock) (*MetadataStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, err
	}
	return &MetadataStore{db: db, path: path, clock: clock}, nil
}

// NewMetadataStoreFromDB wraps an existing database connection.
// The caller is responsible for ensuring the schema is migrated.
func NewMetadataStoreFromDB(db *sql.DB, clock geosync.Clock) *MetadataStore {
	return &MetadataStore{db: db, clock: clock}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would open its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Load returns the working-copy metadata, or geosync.ErrNotInitialized when
// no project has been recorded yet.
func (s *MetadataStore) Load(ctx context.Context) (*model.Metadata, error) {
	meta := &model.Metadata{}
	var unfinished int
	err := s.db.QueryRowContext(ctx,
		`SELECT project_id, current_version, unfinished_pull, pending_version FROM project WHERE id = 1`,
	).Scan(&meta.ProjectID, &meta.CurrentVersion, &unfinished, &meta.PendingVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, geosync.ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	meta.UnfinishedPull = unfinished != 0

	if meta.Files, err = s.loadFiles(ctx, "files"); err != nil {
		return nil, err
	}
	if meta.PendingFiles, err = s.loadFiles(ctx, "pending_files"); err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *MetadataStore) loadFiles(ctx context.Context, table string) ([]model.FileEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, checksum, size FROM `+table+` ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", table, err)
	}
	defer rows.Close()

	var entries []model.FileEntry
	for rows.Next() {
		var e model.FileEntry
		if err := rows.Scan(&e.Path, &e.Checksum, &e.Size); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Save replaces the stored metadata in a single transaction.
func (s *MetadataStore) Save(ctx context.Context, meta *model.Metadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	unfinished := 0
	if meta.UnfinishedPull {
		unfinished = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO project (id, project_id, current_version, unfinished_pull, pending_version)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			project_id = excluded.project_id,
			current_version = excluded.current_version,
			unfinished_pull = excluded.unfinished_pull,
			pending_version = excluded.pending_version`,
		meta.ProjectID, meta.CurrentVersion, unfinished, meta.PendingVersion)
	if err != nil {
		return fmt.Errorf("saving project: %w", err)
	}

	if err := replaceFiles(ctx, tx, "files", meta.Files); err != nil {
		return err
	}
	if err := replaceFiles(ctx, tx, "pending_files", meta.PendingFiles); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing metadata: %w", err)
	}
	return nil
}

func replaceFiles(ctx context.Context, tx *sql.Tx, table string, entries []model.FileEntry) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return fmt.Errorf("clearing %s: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+table+` (position, path, checksum, size) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing %s insert: %w", table, err)
	}
	defer stmt.Close()
	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, i, e.Path, e.Checksum, e.Size); err != nil {
			return fmt.Errorf("saving %s entry %s: %w", table, e.Path, err)
		}
	}
	return nil
}

// Sync operation tracking

// StartOperation records the start of a sync operation and returns its ID.
func (s *MetadataStore) StartOperation(ctx context.Context, operation, parameters string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_operations (operation, parameters, started_at, status) VALUES (?, ?, ?, ?)`,
		operation, parameters, s.clock.Now().UTC(), StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("creating sync operation: %w", err)
	}
	return res.LastInsertId()
}

// FinishOperation records the outcome of a sync operation.
func (s *MetadataStore) FinishOperation(ctx context.Context, id int64, status string, version, conflicts int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_operations SET finished_at = ?, status = ?, version = ?, conflicts = ? WHERE id = ?`,
		s.clock.Now().UTC(), status, version, conflicts, id)
	if err != nil {
		return fmt.Errorf("finishing sync operation: %w", err)
	}
	return nil
}

// ListOperations returns the most recent operations, newest first.
func (s *MetadataStore) ListOperations(ctx context.Context, limit int) ([]model.SyncOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation, parameters, started_at, finished_at, status, version, conflicts
		FROM sync_operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync operations: %w", err)
	}
	defer rows.Close()

	var ops []model.SyncOperation
	for rows.Next() {
		var op model.SyncOperation
		var finished sql.NullTime
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.StartedAt, &finished,
			&op.Status, &op.Version, &op.Conflicts); err != nil {
			return nil, fmt.Errorf("scanning sync operation: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			op.FinishedAt = &t
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *MetadataStore) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *MetadataStore) CheckMigrations() error {
	return migrations.Check(s.db)
}

// Close closes the database connection.
func (s *MetadataStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

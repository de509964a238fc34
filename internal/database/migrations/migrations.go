// Package migrations owns the working-copy schema. SQL files are embedded and
// applied with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var files embed.FS

var (
	// ErrNotMigrated means the database has never been migrated.
	ErrNotMigrated = errors.New("working copy database has no schema")
	// ErrSchemaTooNew means a newer geosync wrote the database.
	ErrSchemaTooNew = errors.New("working copy database was written by a newer geosync")
	// ErrDirty means a previous migration stopped halfway.
	ErrDirty = errors.New("working copy database has a failed migration")
)

// Latest returns the highest migration version compiled into the binary.
func Latest() (uint, error) {
	src, err := iofs.New(files, "files")
	if err != nil {
		return 0, fmt.Errorf("reading migrations: %w", err)
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("reading migrations: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("reading migrations: %w", err)
		}
		v = next
	}
}

// Check returns nil when db is exactly at Latest.
func Check(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}
	current, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return ErrNotMigrated
	}
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("%w (version %d)", ErrDirty, current)
	}
	latest, err := Latest()
	if err != nil {
		return err
	}
	switch {
	case current < latest:
		return fmt.Errorf("schema at version %d, binary expects %d", current, latest)
	case current > latest:
		return fmt.Errorf("%w (version %d > %d)", ErrSchemaTooNew, current, latest)
	}
	return nil
}

// Up applies pending migrations. A database already at Latest is left alone;
// one ahead of it is refused.
func Up(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}
	latest, err := Latest()
	if err != nil {
		return err
	}
	if current, _, err := m.Version(); err == nil && current > latest {
		return fmt.Errorf("%w (version %d > %d)", ErrSchemaTooNew, current, latest)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// open wraps db without taking ownership; the migrate instance is never
// closed because that would close db.
func open(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(files, "files")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("opening migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("opening migrations: %w", err)
	}
	return m, nil
}

package datastore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jbweber/homelab/forge/internal/migrations"
	_ "modernc.org/sqlite"
)

// Datastore wraps the SQLite handle all repositories share.
type Datastore struct {
	DB *sql.DB
}

// New opens the database at path, applies connection settings and runs all
// migrations. The path may be a plain file path or a sqlite DSN.
func New(path string) (*Datastore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	tuneConnection(db)

	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return &Datastore{DB: db}, nil
}

// Close closes the underlying database handle.
func (ds *Datastore) Close() error {
	return ds.DB.Close()
}

// tuneConnection applies connection pool parameters
func tuneConnection(db *sql.DB) {
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)
}

// runMigrations runs all database migrations
func runMigrations(db *sql.DB) error {
	migrator := migrations.NewMigrator(db)

	for _, migration := range migrations.GetInitialMigrations() {
		migrator.AddMigration(migration)
	}
	for _, migration := range migrations.GetPerformanceMigrations() {
		migrator.AddMigration(migration)
	}

	if err := migrator.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

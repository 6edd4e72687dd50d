package store

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	total INTEGER NOT NULL DEFAULT 0,
	completed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	first_seen TEXT NOT NULL,
	finished_at TEXT
);

CREATE INDEX IF NOT EXISTS batches_first_seen ON batches (first_seen);
`

// OpenDB opens a SQLite database at the given path, creating it if necessary.
// It also creates the schema if the database is new.
func OpenDB(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrateDB(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// migrateDB adds columns introduced after the first schema (SQLite doesn't
// support IF NOT EXISTS for columns)
func migrateDB(db *sql.DB) error {
	migrations := []struct {
		check string
		alter string
	}{
		{"SELECT last_apl FROM batches LIMIT 1", "ALTER TABLE batches ADD COLUMN last_apl REAL"},
	}

	for _, m := range migrations {
		if _, err := db.Exec(m.check); err != nil {
			if _, err := db.Exec(m.alter); err != nil {
				return err
			}
		}
	}
	return nil
}

package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// NewSQLiteStore opens (or creates) the database at path. ":memory:" is
// accepted for tests.
func NewSQLiteStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and avoids
	// SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLStore{db: db, dialect: dialectSQLite}
	if err := s.migrateSQLite(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error while migrating database: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrateSQLite() error {
	schema := `
		CREATE TABLE IF NOT EXISTS zones (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			center_lat REAL,
			center_lng REAL,
			radius_meters REAL NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			phone_number TEXT NOT NULL,
			relationship TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			lat REAL,
			lng REAL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_zones_owner ON zones(owner_id);
		CREATE INDEX IF NOT EXISTS idx_contacts_user ON contacts(user_id);
		CREATE INDEX IF NOT EXISTS idx_incidents_user ON incidents(user_id);
		CREATE INDEX IF NOT EXISTS idx_incidents_lat_lng ON incidents(lat, lng);
	`
	_, err := s.db.Exec(schema)
	return err
}

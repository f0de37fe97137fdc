package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

func NewPostgresStore(connStr string) (*SQLStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLStore{db: db, dialect: dialectPostgres}

	// Initialize schema
	if err := s.initPostgresSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLStore) initPostgresSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS zones (
		id VARCHAR(64) PRIMARY KEY,
		owner_id VARCHAR(64) NOT NULL,
		name VARCHAR(100) NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		center_lat DOUBLE PRECISION,
		center_lng DOUBLE PRECISION,
		radius_meters DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS contacts (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		name VARCHAR(100) NOT NULL,
		phone_number VARCHAR(20) NOT NULL,
		relationship VARCHAR(50) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS incidents (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		title VARCHAR(120) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category VARCHAR(50) NOT NULL DEFAULT '',
		severity VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		lat DOUBLE PRECISION,
		lng DOUBLE PRECISION,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_zones_owner ON zones(owner_id);
	CREATE INDEX IF NOT EXISTS idx_contacts_user ON contacts(user_id);
	CREATE INDEX IF NOT EXISTS idx_incidents_user ON incidents(user_id);
	CREATE INDEX IF NOT EXISTS idx_incidents_lat_lng ON incidents(lat, lng);
	`

	_, err := s.db.Exec(schema)
	return err
}

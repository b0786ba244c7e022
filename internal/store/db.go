package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection and ensures the schema exists.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(context.Background()); err != nil {
		return &DB{Client: db}, err
	}
	if err := migrate(db); err != nil {
		return &DB{Client: db}, fmt.Errorf("migrate: %w", err)
	}
	return &DB{Client: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id                 BIGSERIAL PRIMARY KEY,
		name               TEXT NOT NULL,
		department         TEXT NOT NULL DEFAULT 'General',
		email              TEXT UNIQUE,
		profile_image_url  TEXT,
		role               TEXT NOT NULL DEFAULT 'student',
		password_hash      TEXT,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS attendance (
		id               BIGSERIAL PRIMARY KEY,
		user_id          BIGINT NOT NULL,
		timestamp        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		screenshot_path  TEXT
	);

	CREATE TABLE IF NOT EXISTS announcements (
		id          BIGSERIAL PRIMARY KEY,
		title       TEXT NOT NULL,
		body        TEXT NOT NULL DEFAULT '',
		audience    TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_user ON attendance(user_id);
	CREATE INDEX IF NOT EXISTS idx_attendance_time ON attendance(timestamp);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

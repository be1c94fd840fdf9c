package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &DB{Client: db}, db.PingContext(context.Background())
}

// Migrate creates the tables the service depends on. The unique index on
// (student_id, subject, day) is the actual enforcement of the
// one-entry-per-day rule; the application-level check only exists for the
// friendly error message. Expired qr_sessions rows are purged by an external
// job keyed on expires_at; nothing here depends on that cleanup.
func (d *DB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL,
			role             TEXT NOT NULL CHECK (role IN ('student', 'teacher', 'admin')),
			face_descriptor  JSONB,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS qr_sessions (
			id           TEXT PRIMARY KEY,
			issuer_id    TEXT NOT NULL,
			issuer_name  TEXT NOT NULL DEFAULT '',
			subject      TEXT NOT NULL,
			lat          DOUBLE PRECISION NOT NULL DEFAULT 0,
			lon          DOUBLE PRECISION NOT NULL DEFAULT 0,
			radius_m     DOUBLE PRECISION NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			expires_at   TIMESTAMPTZ NOT NULL,
			active       BOOLEAN NOT NULL DEFAULT TRUE,
			usage_count  INTEGER NOT NULL DEFAULT 0,
			max_usage    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_qr_sessions_expires ON qr_sessions(expires_at)`,
		`CREATE TABLE IF NOT EXISTS attendance_entries (
			id                   TEXT PRIMARY KEY,
			student_id           TEXT NOT NULL,
			teacher_id           TEXT NOT NULL,
			subject              TEXT NOT NULL,
			day                  DATE NOT NULL,
			marked_at            TIMESTAMPTZ NOT NULL,
			status               TEXT NOT NULL DEFAULT 'present',
			verification_method  TEXT NOT NULL DEFAULT 'qr',
			lat                  DOUBLE PRECISION NOT NULL DEFAULT 0,
			lon                  DOUBLE PRECISION NOT NULL DEFAULT 0,
			session_id           TEXT NOT NULL,
			face_verified        BOOLEAN NOT NULL DEFAULT FALSE,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_student_subject_day
			ON attendance_entries(student_id, subject, day)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_session ON attendance_entries(session_id, marked_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// Repository persists sessions and the attendance ledger in Postgres.
// It implements both SessionStore and LedgerStore.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertSession stores a freshly issued session token.
func (r *Repository) InsertSession(ctx context.Context, tok Token) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO qr_sessions (id, issuer_id, issuer_name, subject, lat, lon, radius_m,
		                         created_at, expires_at, active, usage_count, max_usage)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, tok.ID, tok.IssuerID, tok.IssuerName, tok.Subject,
		tok.Geofence.Latitude, tok.Geofence.Longitude, tok.Geofence.RadiusMeters,
		tok.CreatedAt, tok.ExpiresAt, tok.Active, tok.UsageCount, tok.MaxUsage)
	return err
}

// GetSession returns the token by id, or (nil, nil) when unknown.
func (r *Repository) GetSession(ctx context.Context, id string) (*Token, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, issuer_id, issuer_name, subject, lat, lon, radius_m,
		       created_at, expires_at, active, usage_count, max_usage
		FROM qr_sessions WHERE id = $1
	`, id)
	var tok Token
	if err := row.Scan(&tok.ID, &tok.IssuerID, &tok.IssuerName, &tok.Subject,
		&tok.Geofence.Latitude, &tok.Geofence.Longitude, &tok.Geofence.RadiusMeters,
		&tok.CreatedAt, &tok.ExpiresAt, &tok.Active, &tok.UsageCount, &tok.MaxUsage); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &tok, nil
}

// CloseSession flips active off. A no-op for unknown ids.
func (r *Repository) CloseSession(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE qr_sessions SET active = FALSE WHERE id = $1`, id)
	return err
}

// HasEntry reports whether a ledger entry exists for the uniqueness key.
func (r *Repository) HasEntry(ctx context.Context, studentID, subject string, day time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_entries
			WHERE student_id = $1 AND subject = $2 AND day = $3::date
		)
	`, studentID, subject, day.Format("2006-01-02")).Scan(&exists)
	return exists, err
}

// CommitEntry performs the marking commit in one transaction: a conditional
// usage increment followed by the ledger insert. The conditional UPDATE is
// what keeps concurrent validations from overshooting the cap; the unique
// index on (student_id, subject, day) is what keeps the duplicate pre-check
// honest under races.
func (r *Repository) CommitEntry(ctx context.Context, e Entry) (Entry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE qr_sessions
		SET usage_count = usage_count + 1
		WHERE id = $1 AND active AND usage_count < max_usage
	`, e.SessionID)
	if err != nil {
		return Entry{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish a spent cap from a session closed under our feet.
		var active bool
		err := tx.QueryRowContext(ctx, `SELECT active FROM qr_sessions WHERE id = $1`, e.SessionID).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !active) {
			return Entry{}, ErrSessionUnavailable
		}
		if err != nil {
			return Entry{}, err
		}
		return Entry{}, ErrUsageExhausted
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attendance_entries (id, student_id, teacher_id, subject, day, marked_at,
		                                status, verification_method, lat, lon, session_id, face_verified)
		VALUES ($1,$2,$3,$4,$5::date,$6,$7,$8,$9,$10,$11,$12)
	`, e.ID, e.StudentID, e.TeacherID, e.Subject, e.Day.Format("2006-01-02"), e.MarkedAt,
		e.Status, e.VerificationMethod, e.Latitude, e.Longitude, e.SessionID, e.FaceVerified)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Entry{}, ErrEntryExists
		}
		return Entry{}, err
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("commit: %w", err)
	}
	return e, nil
}

// ListBySession returns entries for a session, most recent first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, teacher_id, subject, day, marked_at,
		       status, verification_method, lat, lon, session_id, face_verified
		FROM attendance_entries
		WHERE session_id = $1
		ORDER BY marked_at DESC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.StudentID, &e.TeacherID, &e.Subject, &e.Day, &e.MarkedAt,
			&e.Status, &e.VerificationMethod, &e.Latitude, &e.Longitude, &e.SessionID, &e.FaceVerified); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// User is the slice of the account profile this service reads. Account
// management (registration, passwords) lives elsewhere; only identity, role
// and the enrolled face descriptor matter here.
type User struct {
	ID             string
	Name           string
	Role           string
	FaceDescriptor []float64
	CreatedAt      time.Time
}

// UserStore reads user rows from Postgres.
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a store.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// Get returns a user by id, or (nil, nil) when unknown.
func (s *UserStore) Get(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, role, face_descriptor, created_at
		FROM users WHERE id = $1
	`, id)
	var (
		u   User
		raw []byte
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Role, &raw, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &u.FaceDescriptor); err != nil {
			return nil, err
		}
	}
	return &u, nil
}

// SetFaceDescriptor stores the enrolled descriptor for a user.
func (s *UserStore) SetFaceDescriptor(ctx context.Context, id string, descriptor []float64) error {
	raw, err := json.Marshal(descriptor)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE users SET face_descriptor = $2 WHERE id = $1`, id, raw)
	return err
}

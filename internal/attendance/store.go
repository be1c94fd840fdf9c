package attendance

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by LedgerStore.CommitEntry when the storage-level
// constraints fire. The protocol translates them into the same rejection
// kinds its pre-checks produce, so races lost at commit time look identical
// to races caught early.
var (
	ErrEntryExists        = errors.New("attendance entry already exists for student, subject and day")
	ErrUsageExhausted     = errors.New("session usage cap reached")
	ErrSessionUnavailable = errors.New("session closed or missing")
)

// SessionStore persists issued QR sessions.
type SessionStore interface {
	// InsertSession stores a freshly created token.
	InsertSession(ctx context.Context, tok Token) error
	// GetSession returns the token by id, or (nil, nil) when unknown.
	GetSession(ctx context.Context, id string) (*Token, error)
	// CloseSession sets active=false. Idempotent; unknown ids are a no-op.
	CloseSession(ctx context.Context, id string) error
}

// LedgerStore persists attendance entries and performs the atomic commit of
// a validated marking.
type LedgerStore interface {
	// HasEntry reports whether an entry exists for the uniqueness key.
	HasEntry(ctx context.Context, studentID, subject string, day time.Time) (bool, error)
	// CommitEntry atomically increments the session usage counter (only
	// while active and under the cap) and inserts the entry. Returns
	// ErrUsageExhausted, ErrSessionUnavailable or ErrEntryExists when the
	// corresponding constraint rejects the commit.
	CommitEntry(ctx context.Context, e Entry) (Entry, error)
	// ListBySession returns entries for a session, most recent first.
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]Entry, error)
}

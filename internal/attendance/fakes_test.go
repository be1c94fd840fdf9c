package attendance

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memStore is an in-memory SessionStore + LedgerStore mirroring the
// constraints the Postgres repo enforces: a unique (student, subject, day)
// key and a conditional usage increment.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*Token
	entries  []Entry
	byKey    map[string]bool

	failGets    bool
	failCommits bool
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*Token),
		byKey:    make(map[string]bool),
	}
}

func entryKey(studentID, subject string, day time.Time) string {
	return studentID + "|" + subject + "|" + day.Format("2006-01-02")
}

func (m *memStore) InsertSession(ctx context.Context, tok Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := tok
	m.sessions[tok.ID] = &cp
	return nil
}

func (m *memStore) GetSession(ctx context.Context, id string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGets {
		return nil, fmt.Errorf("simulated storage failure")
	}
	tok, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *tok
	return &cp, nil
}

func (m *memStore) CloseSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok, ok := m.sessions[id]; ok {
		tok.Active = false
	}
	return nil
}

func (m *memStore) HasEntry(ctx context.Context, studentID, subject string, day time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byKey[entryKey(studentID, subject, day)], nil
}

func (m *memStore) CommitEntry(ctx context.Context, e Entry) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCommits {
		return Entry{}, fmt.Errorf("simulated storage failure")
	}
	tok, ok := m.sessions[e.SessionID]
	if !ok || !tok.Active {
		return Entry{}, ErrSessionUnavailable
	}
	if tok.UsageCount >= tok.MaxUsage {
		return Entry{}, ErrUsageExhausted
	}
	key := entryKey(e.StudentID, e.Subject, e.Day)
	if m.byKey[key] {
		return Entry{}, ErrEntryExists
	}
	tok.UsageCount++
	m.byKey[key] = true
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *memStore) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []Entry
	// most recent first
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].SessionID == sessionID {
			out = append(out, m.entries[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

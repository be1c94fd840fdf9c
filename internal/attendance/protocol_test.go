package attendance

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Pune center used across tests; ~0.0045 deg latitude is ~500m.
const (
	centerLat = 18.52
	centerLon = 73.85
	nearLat   = 18.52005 // ~5.5m north of center
	farLat    = 18.5245  // ~500m north of center
)

func testSession(id string, mutate func(*Token)) Token {
	now := time.Now()
	tok := Token{
		ID:         id,
		IssuerID:   "teacher-1",
		IssuerName: "Prof. Joshi",
		Subject:    "Physics",
		Geofence:   Geofence{Latitude: centerLat, Longitude: centerLon, RadiusMeters: 20},
		CreatedAt:  now,
		ExpiresAt:  now.Add(10 * time.Minute),
		Active:     true,
		MaxUsage:   100,
	}
	if mutate != nil {
		mutate(&tok)
	}
	return tok
}

func newTestProtocol(t *testing.T) (*Protocol, *memStore) {
	t.Helper()
	store := newMemStore()
	return NewProtocol(store, store, time.UTC), store
}

func requireKind(t *testing.T, err error, kind Kind) *Rejection {
	t.Helper()
	require.Error(t, err)
	r, ok := AsRejection(err)
	require.True(t, ok, "expected a Rejection, got %v", err)
	require.Equal(t, kind, r.Kind)
	return r
}

func TestValidateSuccess(t *testing.T) {
	p, store := newTestProtocol(t)
	ctx := context.Background()
	require.NoError(t, store.InsertSession(ctx, testSession("s1", nil)))

	entry, err := p.Validate(ctx, "s1", "student-1", nearLat, centerLon, true)
	require.NoError(t, err)

	assert.Equal(t, StatusPresent, entry.Status)
	assert.Equal(t, MethodQR, entry.VerificationMethod)
	assert.True(t, entry.FaceVerified)
	assert.Equal(t, "Physics", entry.Subject)
	assert.Equal(t, "teacher-1", entry.TeacherID)
	assert.Equal(t, "s1", entry.SessionID)
	assert.Equal(t, nearLat, entry.Latitude)
	assert.NotEmpty(t, entry.ID)

	tok, _ := store.GetSession(ctx, "s1")
	assert.Equal(t, 1, tok.UsageCount)
}

func TestValidateUnknownSession(t *testing.T) {
	p, _ := newTestProtocol(t)
	_, err := p.Validate(context.Background(), "nope", "student-1", nearLat, centerLon, false)
	requireKind(t, err, KindInvalidSession)
}

func TestValidateInactiveSession(t *testing.T) {
	p, store := newTestProtocol(t)
	ctx := context.Background()
	require.NoError(t, store.InsertSession(ctx, testSession("s1", func(tok *Token) { tok.Active = false })))
	_, err := p.Validate(ctx, "s1", "student-1", nearLat, centerLon, false)
	requireKind(t, err, KindInvalidSession)
}

func TestValidateMissingIDs(t *testing.T) {
	p, _ := newTestProtocol(t)
	_, err := p.Validate(context.Background(), "", "student-1", nearLat, centerLon, false)
	requireKind(t, err, KindInvalidInput)
	_, err = p.Validate(context.Background(), "s1", "", nearLat, centerLon, false)
	requireKind(t, err, KindInvalidInput)
}

func TestValidateExpiryFlipsActive(t *testing.T) {
	p, store := newTestProtocol(t)
	ctx := context.Background()
	tok := testSession("s1", nil)
	require.NoError(t, store.InsertSession(ctx, tok))

	// Valid one second before the deadline.
	p.now = func() time.Time { return tok.ExpiresAt.Add(-time.Second) }
	_, err := p.Validate(ctx, "s1", "student-early", nearLat, centerLon, false)
	require.NoError(t, err)

	// One second past: rejected and lazily deactivated.
	p.now = func() time.Time { return tok.ExpiresAt.Add(time.Second) }
	_, err = p.Validate(ctx, "s1", "student-late", nearLat, centerLon, false)
	requireKind(t, err, KindSessionExpired)

	got, _ := store.GetSession(ctx, "s1")
	assert.False(t, got.Active, "expiry must flip active off")

	// Next attempt fails at gate one.
	_, err = p.Validate(ctx, "s1", "student-later", nearLat, centerLon, false)
	requireKind(t, err, KindInvalidSession)
}

func TestValidateDuplicateSameDay(t *testing.T) {
	p, store := newTestProtocol(t)
	ctx := context.Background()
	require.NoError(t, store.InsertSession(ctx, testSession("s1", nil)))

	_, err := p.Validate(ctx, "s1", "student-1", nearLat, centerLon, false)
	require.NoError(t, err)

	_, err = p.Validate(ctx, "s1", "student-1", nearLat, centerLon, false)
	requireKind(t, err, KindDuplicateSubmission)
}

func TestValidateDuplicateAcrossSessionsSameSubject(t *testing.T) {
	p, store := newTestProtocol(t)
	ctx := context.Background()
	require.NoError(t, store.InsertSession(ctx, testSession("s1", nil)))
	require.NoError(t, store.InsertSession(ctx, testSession("s2", nil)))

	_, err := p.Validate(ctx, "s1", "student-1", nearLat, centerLon, false)
	require.NoError(t, err)

	// A second session for the same subject on the same day still counts
	// as a duplicate for this student.
	_, err = p.Validate(ctx, "s2", "student-1", nearLat, centerLon, false)
	requireKind(t, err, KindDuplicateSubmission)
}

func TestValidateNextDayAllowed(t *testing.T) {
	p, store := newTestProtocol(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 23, 50, 0, 0, time.UTC)
	tok := testSession("s1", func(tok *Token) {
		tok.CreatedAt = base.Add(-time.Hour)
		tok.ExpiresAt = base.Add(48 * time.Hour)
	})
	require.NoError(t, store.InsertSession(ctx, tok))

	p.now = func() time.Time { return base }
	_, err := p.Validate(ctx, "s1", "student-1", nearLat, centerLon, false)
	require.NoError(t, err)

	// 20 minutes later it is the next calendar day; a fresh entry commits.
	p.now = func() time.Time { return base.Add(20 * time.Minute) }
	_, err = p.Validate(ctx, "s1", "student-1", nearLat, centerLon, false)
	require.NoError(t, err)
}

func TestValidateOutOfRange(t *testing.T) {
	p, store := newTestProtocol(t)
	ctx := context.Background()
	require.NoError(t, store.InsertSession(ctx, testSession("s1", nil)))

	_, err := p.Validate(ctx, "s1", "student-2", farLat, centerLon, false)
	r := requireKind(t, err, KindOutOfRange)

	assert.InDelta(t, 500, r.DistanceMeters, 20, "distance should be ~500m")
	assert.Equal(t, 20.0, r.RequiredRadiusMeters)
	assert.Contains(t, r.Message, "within 20m")
}

func TestValidateGeofenceSkippedOnZeroCoordinate(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name               string
		sessionLat         float64
		claimedLat, claimedLon float64
	}{
		{name: "claimed lat zero", sessionLat: centerLat, claimedLat: 0, claimedLon: centerLon},
		{name: "claimed both zero", sessionLat: centerLat, claimedLat: 0, claimedLon: 0},
		{name: "session lat zero", sessionLat: 0, claimedLat: farLat, claimedLon: centerLon},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, store := newTestProtocol(t)
			require.NoError(t, store.InsertSession(ctx, testSession("s1", func(tok *Token) {
				tok.Geofence.Latitude = tt.sessionLat
			})))
			// Far or missing coordinates both pass because the gate is skipped.
			_, err := p.Validate(ctx, "s1", "student-1", tt.claimedLat, tt.claimedLon, false)
			require.NoError(t, err)
		})
	}
}

func TestValidateUsageCap(t *testing.T) {
	p, store := newTestProtocol(t)
	ctx := context.Background()
	require.NoError(t, store.InsertSession(ctx, testSession("s1", func(tok *Token) { tok.MaxUsage = 2 })))

	_, err := p.Validate(ctx, "s1", "student-1", nearLat, centerLon, false)
	require.NoError(t, err)
	_, err = p.Validate(ctx, "s1", "student-2", nearLat, centerLon, false)
	require.NoError(t, err)

	_, err = p.Validate(ctx, "s1", "student-3", nearLat, centerLon, false)
	requireKind(t, err, KindCapReached)
}

func TestValidateConcurrentAtMostOncePerDay(t *testing.T) {
	p, store := newTestProtocol(t)
	ctx := context.Background()
	require.NoError(t, store.InsertSession(ctx, testSession("s1", nil)))

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Validate(ctx, "s1", "student-race", nearLat, centerLon, false)
		}(i)
	}
	wg.Wait()

	var successes, duplicates int
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		r, ok := AsRejection(err)
		require.True(t, ok, "unexpected error: %v", err)
		require.Equal(t, KindDuplicateSubmission, r.Kind)
		duplicates++
	}
	assert.Equal(t, 1, successes, "exactly one concurrent attempt may win")
	assert.Equal(t, attempts-1, duplicates)

	tok, _ := store.GetSession(ctx, "s1")
	assert.Equal(t, 1, tok.UsageCount, "losing attempts must not consume usage")
}

func TestValidateStorageFailureIsNotRejection(t *testing.T) {
	p, store := newTestProtocol(t)
	ctx := context.Background()
	require.NoError(t, store.InsertSession(ctx, testSession("s1", nil)))

	store.failCommits = true
	_, err := p.Validate(ctx, "s1", "student-1", nearLat, centerLon, false)
	require.Error(t, err)
	_, ok := AsRejection(err)
	assert.False(t, ok, "storage failures must not surface as rejections")

	store.failCommits = false
	store.failGets = true
	_, err = p.Validate(ctx, "s1", "student-1", nearLat, centerLon, false)
	require.Error(t, err)
	_, ok = AsRejection(err)
	assert.False(t, ok)
}

// Round-trip scenario: issue, mark, duplicate, out of range, close, retry.
func TestValidateRoundTrip(t *testing.T) {
	store := newMemStore()
	p := NewProtocol(store, store, time.UTC)
	lc := NewLifecycle(store, store, 0, 0)
	ctx := context.Background()

	tok, err := lc.Create(ctx, "teacher-1", "Prof. Joshi", "Physics", 10, centerLat, centerLon, 20)
	require.NoError(t, err)

	entry, err := p.Validate(ctx, tok.ID, "S1", nearLat, centerLon, true)
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, entry.Status)
	assert.Equal(t, MethodQR, entry.VerificationMethod)
	assert.True(t, entry.FaceVerified)

	_, err = p.Validate(ctx, tok.ID, "S1", nearLat, centerLon, true)
	requireKind(t, err, KindDuplicateSubmission)

	_, err = p.Validate(ctx, tok.ID, "S2", farLat, centerLon, true)
	r := requireKind(t, err, KindOutOfRange)
	assert.InDelta(t, 500, r.DistanceMeters, 20)
	assert.Equal(t, 20.0, r.RequiredRadiusMeters)

	require.NoError(t, lc.Close(ctx, tok.ID, "teacher-1"))
	_, err = p.Validate(ctx, tok.ID, "S3", nearLat, centerLon, true)
	requireKind(t, err, KindInvalidSession)
}

func BenchmarkValidate(b *testing.B) {
	store := newMemStore()
	p := NewProtocol(store, store, time.UTC)
	ctx := context.Background()
	_ = store.InsertSession(ctx, testSession("s1", func(tok *Token) { tok.MaxUsage = 1 << 30 }))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = p.Validate(ctx, "s1", fmt.Sprintf("student-%d", i), nearLat, centerLon, false)
	}
}

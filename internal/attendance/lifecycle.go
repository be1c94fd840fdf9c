package attendance

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Lifecycle governs session creation, closing, and the live read model
// exposed to the issuing teacher while a session is open.
//
// Sessions only move forward: Active -> Expired (lazily, see Protocol) or
// Active -> Closed (issuer action). Neither transition reverses.
type Lifecycle struct {
	sessions      SessionStore
	ledger        LedgerStore
	defaultRadius float64
	maxUsage      int
	now           func() time.Time
}

// NewLifecycle builds the lifecycle service. defaultRadius and maxUsage of
// zero pick the package defaults.
func NewLifecycle(sessions SessionStore, ledger LedgerStore, defaultRadius float64, maxUsage int) *Lifecycle {
	if defaultRadius <= 0 {
		defaultRadius = DefaultRadiusMeters
	}
	if maxUsage <= 0 {
		maxUsage = DefaultMaxUsage
	}
	return &Lifecycle{
		sessions:      sessions,
		ledger:        ledger,
		defaultRadius: defaultRadius,
		maxUsage:      maxUsage,
		now:           time.Now,
	}
}

// Create issues a new session token. Duration is clamped to
// [MinDurationMinutes, MaxDurationMinutes] and the radius to
// [MinRadiusMeters, MaxRadiusMeters] rather than rejected. A zero
// coordinate is accepted and produces a session without a usable geofence.
func (l *Lifecycle) Create(ctx context.Context, issuerID, issuerName, subject string, durationMinutes int, lat, lon, radiusMeters float64) (Token, error) {
	subject = strings.TrimSpace(subject)
	if issuerID == "" {
		return Token{}, reject(KindInvalidInput, "issuer is required")
	}
	if subject == "" {
		return Token{}, reject(KindInvalidInput, "subject is required")
	}
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return Token{}, reject(KindInvalidInput, "coordinates must be finite numbers")
	}

	if durationMinutes < MinDurationMinutes {
		durationMinutes = MinDurationMinutes
	}
	if durationMinutes > MaxDurationMinutes {
		durationMinutes = MaxDurationMinutes
	}

	if radiusMeters <= 0 {
		radiusMeters = l.defaultRadius
	}
	if radiusMeters < MinRadiusMeters {
		radiusMeters = MinRadiusMeters
	}
	if radiusMeters > MaxRadiusMeters {
		radiusMeters = MaxRadiusMeters
	}

	now := l.now()
	tok := Token{
		ID:         uuid.NewString(),
		IssuerID:   issuerID,
		IssuerName: issuerName,
		Subject:    subject,
		Geofence:   Geofence{Latitude: lat, Longitude: lon, RadiusMeters: radiusMeters},
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Duration(durationMinutes) * time.Minute),
		Active:     true,
		UsageCount: 0,
		MaxUsage:   l.maxUsage,
	}
	if err := l.sessions.InsertSession(ctx, tok); err != nil {
		return Token{}, fmt.Errorf("insert session for issuer %s: %w", issuerID, err)
	}
	return tok, nil
}

// Close deactivates a session. Only the issuer may close it; closing an
// already-closed session succeeds (the teacher "submit" button may be
// pressed twice).
func (l *Lifecycle) Close(ctx context.Context, sessionID, issuerID string) error {
	tok, err := l.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("lookup session %s: %w", sessionID, err)
	}
	if tok == nil {
		return reject(KindInvalidSession, "invalid or inactive session")
	}
	if tok.IssuerID != issuerID {
		return reject(KindUnauthorized, "only the issuing teacher may close this session")
	}
	if !tok.Active {
		return nil
	}
	if err := l.sessions.CloseSession(ctx, sessionID); err != nil {
		return fmt.Errorf("close session %s: %w", sessionID, err)
	}
	return nil
}

// LiveAttendance reads the ledger entries tied to a session, most recent
// first, for the issuing teacher's polling view. Works on closed sessions
// too, so the teacher can review right after submitting.
func (l *Lifecycle) LiveAttendance(ctx context.Context, sessionID, issuerID string, limit, offset int) ([]Entry, error) {
	tok, err := l.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lookup session %s: %w", sessionID, err)
	}
	if tok == nil {
		return nil, reject(KindInvalidSession, "invalid or inactive session")
	}
	if tok.IssuerID != issuerID {
		return nil, reject(KindUnauthorized, "only the issuing teacher may view this session")
	}
	entries, err := l.ledger.ListBySession(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list entries for session %s: %w", sessionID, err)
	}
	return entries, nil
}

package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/mayur-mahajan-04/Edutrack-sub000/internal/geo"
)

// Protocol runs the validate-then-mark state machine. It holds no state of
// its own; everything lives in the session and ledger stores, so a single
// instance serves concurrent requests.
type Protocol struct {
	sessions SessionStore
	ledger   LedgerStore
	loc      *time.Location
	now      func() time.Time
}

// NewProtocol builds a protocol over the given stores. loc determines what
// "calendar day" means for the one-per-day rule; nil means server local time.
func NewProtocol(sessions SessionStore, ledger LedgerStore, loc *time.Location) *Protocol {
	if loc == nil {
		loc = time.Local
	}
	return &Protocol{sessions: sessions, ledger: ledger, loc: loc, now: time.Now}
}

// Validate checks a student's marking attempt against the session and, when
// every gate passes, commits a ledger entry and bumps the session usage
// counter. Gates run in a fixed order and the first failure wins:
//
//	session lookup/active -> expiry -> usage cap -> duplicate -> geofence -> commit
//
// Expected failures come back as *Rejection; anything else is a storage
// failure the caller should treat as internal.
func (p *Protocol) Validate(ctx context.Context, sessionID, studentID string, lat, lon float64, faceVerified bool) (entry Entry, err error) {
	defer func() { observeOutcome(err) }()

	if sessionID == "" || studentID == "" {
		return Entry{}, reject(KindInvalidInput, "session id and student id are required")
	}

	tok, err := p.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return Entry{}, fmt.Errorf("lookup session %s: %w", sessionID, err)
	}
	if tok == nil || !tok.Active {
		return Entry{}, reject(KindInvalidSession, "invalid or inactive session")
	}

	now := p.now()
	if tok.Expired(now) {
		// Expiry is detected lazily on first use past the deadline; flip
		// the session inactive so later lookups reject at gate one.
		if cerr := p.sessions.CloseSession(ctx, tok.ID); cerr != nil {
			log.Printf("deactivate expired session %s failed: %v", tok.ID, cerr)
		}
		return Entry{}, reject(KindSessionExpired, "session has expired")
	}

	if tok.Exhausted() {
		return Entry{}, reject(KindCapReached, "session usage cap reached")
	}

	day := DayOf(now, p.loc)
	exists, err := p.ledger.HasEntry(ctx, studentID, tok.Subject, day)
	if err != nil {
		return Entry{}, fmt.Errorf("duplicate check for student %s session %s: %w", studentID, sessionID, err)
	}
	if exists {
		return Entry{}, reject(KindDuplicateSubmission, "attendance already marked for %s today", tok.Subject)
	}

	if geofenceApplies(lat, lon, tok.Geofence) {
		d := geo.Distance(lat, lon, tok.Geofence.Latitude, tok.Geofence.Longitude)
		if d > tok.Geofence.RadiusMeters {
			return Entry{}, rejectOutOfRange(math.Round(d), tok.Geofence.RadiusMeters)
		}
	}

	entry = Entry{
		ID:                 uuid.NewString(),
		StudentID:          studentID,
		TeacherID:          tok.IssuerID,
		Subject:            tok.Subject,
		Day:                day,
		MarkedAt:           now,
		Status:             StatusPresent,
		VerificationMethod: MethodQR,
		Latitude:           lat,
		Longitude:          lon,
		SessionID:          tok.ID,
		FaceVerified:       faceVerified,
	}

	committed, err := p.ledger.CommitEntry(ctx, entry)
	switch {
	case err == nil:
		return committed, nil
	case errors.Is(err, ErrEntryExists):
		// Lost the check-then-act race; same answer as the pre-check.
		return Entry{}, reject(KindDuplicateSubmission, "attendance already marked for %s today", tok.Subject)
	case errors.Is(err, ErrUsageExhausted):
		return Entry{}, reject(KindCapReached, "session usage cap reached")
	case errors.Is(err, ErrSessionUnavailable):
		return Entry{}, reject(KindInvalidSession, "invalid or inactive session")
	default:
		return Entry{}, fmt.Errorf("commit entry for student %s session %s: %w", studentID, sessionID, err)
	}
}

// geofenceApplies reports whether the distance gate should run at all. A
// zero coordinate on either side means "location not captured" and skips the
// check entirely; that leniency is load-bearing for clients that mark
// attendance without location permission.
func geofenceApplies(lat, lon float64, gf Geofence) bool {
	for _, v := range [4]float64{lat, lon, gf.Latitude, gf.Longitude} {
		if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

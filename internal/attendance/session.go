package attendance

import "time"

// Geofence bounds for session creation. Radius is clamped into
// [MinRadiusMeters, MaxRadiusMeters]; zero picks DefaultRadiusMeters.
const (
	MinRadiusMeters     = 10.0
	MaxRadiusMeters     = 1000.0
	DefaultRadiusMeters = 20.0

	MinDurationMinutes = 1
	MaxDurationMinutes = 180

	DefaultMaxUsage = 100
)

// Geofence is the allowed physical area for marking attendance against a
// session. A zero latitude or longitude means the session carries no usable
// center and the distance check is skipped during validation.
type Geofence struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
}

// Token is an issued QR attendance session. Its ID is the bearer credential
// embedded in the QR payload; forgery resistance relies on the random id and
// the short expiry, not on any signature.
type Token struct {
	ID         string    `json:"id"`
	IssuerID   string    `json:"issuer_id"`
	IssuerName string    `json:"issuer_name"`
	Subject    string    `json:"subject"`
	Geofence   Geofence  `json:"geofence"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Active     bool      `json:"active"`
	UsageCount int       `json:"usage_count"`
	MaxUsage   int       `json:"max_usage"`
}

// Expired reports whether the token is past its deadline at the given time.
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Exhausted reports whether the usage cap has been reached.
func (t *Token) Exhausted() bool {
	return t.UsageCount >= t.MaxUsage
}

// QRPayload is what gets encoded into the rendered QR image. Besides the
// session id it carries enough redundant data for a human-readable fallback
// when scanning fails.
type QRPayload struct {
	SessionID  string    `json:"session_id"`
	Subject    string    `json:"subject"`
	IssuerName string    `json:"issuer_name"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// QRPayload builds the payload for this token.
func (t *Token) QRPayload() QRPayload {
	return QRPayload{
		SessionID:  t.ID,
		Subject:    t.Subject,
		IssuerName: t.IssuerName,
		ExpiresAt:  t.ExpiresAt,
	}
}

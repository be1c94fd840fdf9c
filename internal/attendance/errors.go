package attendance

import (
	"errors"
	"fmt"
)

// Kind classifies an expected validation or lifecycle failure. Every kind
// maps to one specific user-facing message; only storage failures surface as
// opaque internal errors.
type Kind string

const (
	KindInvalidSession      Kind = "invalid_session"
	KindSessionExpired      Kind = "session_expired"
	KindCapReached          Kind = "cap_reached"
	KindDuplicateSubmission Kind = "duplicate_submission"
	KindOutOfRange          Kind = "out_of_range"
	KindUnauthorized        Kind = "unauthorized"
	KindInvalidInput        Kind = "invalid_input"
)

// Rejection is an expected, user-facing failure returned as data. It
// implements error so it travels through ordinary return paths, but callers
// should branch on Kind via AsRejection rather than on the message.
type Rejection struct {
	Kind    Kind
	Message string

	// Populated for KindOutOfRange only.
	DistanceMeters       float64
	RequiredRadiusMeters float64
}

func (r *Rejection) Error() string { return r.Message }

// AsRejection unwraps err into a Rejection, reporting whether it is one.
// Anything that is not a Rejection is a storage/internal failure.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

func reject(kind Kind, format string, args ...any) *Rejection {
	return &Rejection{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func rejectOutOfRange(distanceMeters, radiusMeters float64) *Rejection {
	return &Rejection{
		Kind: KindOutOfRange,
		Message: fmt.Sprintf("you are %.0fm away from the session location, must be within %.0fm",
			distanceMeters, radiusMeters),
		DistanceMeters:       distanceMeters,
		RequiredRadiusMeters: radiusMeters,
	}
}

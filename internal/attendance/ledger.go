package attendance

import "time"

// Attendance status values. The validate path only ever writes
// StatusPresent; absent rows come from external batch jobs.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
)

// Verification methods recorded on ledger entries.
const (
	MethodQR     = "qr"
	MethodFace   = "face"
	MethodManual = "manual"
)

// Entry is one committed, immutable attendance record. At most one entry
// exists per (student, subject, calendar day); the store enforces that with
// a unique index, the protocol's pre-check only exists for a friendly error.
type Entry struct {
	ID                 string    `json:"id"`
	StudentID          string    `json:"student_id"`
	TeacherID          string    `json:"teacher_id"`
	Subject            string    `json:"subject"`
	Day                time.Time `json:"day"` // local midnight, the uniqueness key
	MarkedAt           time.Time `json:"marked_at"`
	Status             string    `json:"status"`
	VerificationMethod string    `json:"verification_method"`
	Latitude           float64   `json:"latitude"`  // claimed location, stored for audit
	Longitude          float64   `json:"longitude"` // never re-validated later
	SessionID          string    `json:"session_id"`
	FaceVerified       bool      `json:"face_verified"`
}

// DayOf normalizes a timestamp to midnight of its calendar day in loc.
func DayOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

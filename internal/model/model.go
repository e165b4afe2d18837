package model

import "time"

// Lesson statuses as reported by the timetable API.
const (
	StatusRegular     = "REGULAR"
	StatusCancelled   = "CANCELLED"
	StatusSubstituted = "SUBSTITUTED"
	StatusIrregular   = "IRREGULAR"
)

// Grid entry types. Most lessons are NORMAL_TEACHING_PERIOD; exams are
// flagged separately and can be split into their own feed.
const (
	TypeNormalTeachingPeriod = "NORMAL_TEACHING_PERIOD"
	TypeExam                 = "EXAM"
)

// LessonRecord is one lesson instance as returned by a timetable query,
// before normalization. Start/End carry the source's naive wall-clock
// time (no meaningful location); the normalizer resolves them into the
// configured zone.
//
// ID is stable across repeated fetches of the same lesson instance and
// is the sole input to event uid derivation.
type LessonRecord struct {
	ID          string
	Subject     string
	SubjectLong string
	Teacher     string
	Room        string

	Start time.Time
	End   time.Time

	// Status is one of the Status* constants. SUBSTITUTED records
	// already carry the resolved current teacher/room, not the
	// originally scheduled ones.
	Status string

	// Type is one of the Type* constants.
	Type string

	Notes string
}

// Event is the canonical, timezone-resolved calendar event ready for
// serialization. UID is a deterministic function of the source lesson
// id alone so that regeneration from identical data reproduces
// identical uids.
type Event struct {
	UID         string
	Summary     string
	Description string
	Location    string

	// Start / End are in the configured target timezone.
	Start time.Time
	End   time.Time

	// Status is the calendar-level status: CONFIRMED or CANCELLED.
	Status string

	Categories []string

	LastModified time.Time
}

// Package normalize maps raw lesson records into canonical calendar
// events: timezone resolution, stable uid derivation, and cancellation
// and substitution handling.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"untisfeed/internal/model"
)

// ErrSerialization marks invalid event data: a record without start or
// end, or with start after end.
var ErrSerialization = errors.New("invalid event data")

// CancelledMarker prefixes the summary of cancelled lessons. The event
// is still emitted so subscribers see the cancellation rather than
// silence.
const CancelledMarker = "[CANCELLED]"

// uidSuffix keeps uids calendar-client friendly. It is a constant so
// the uid stays a pure function of the lesson id.
const uidSuffix = "@webuntis"

// Options configures a normalization pass.
type Options struct {
	// Location is the target timezone the source's naive wall times
	// resolve into.
	Location *time.Location

	// Now stamps LastModified on every event. Injected so repeated
	// normalization of unchanged data can reproduce identical output.
	Now time.Time
}

// Normalize maps records to events, preserving input order. It fails on
// the first invalid record.
func Normalize(records []model.LessonRecord, opts Options) ([]model.Event, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	events := make([]model.Event, 0, len(records))
	for _, rec := range records {
		ev, err := normalizeRecord(rec, loc, opts.Now)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func normalizeRecord(rec model.LessonRecord, loc *time.Location, now time.Time) (model.Event, error) {
	if rec.Start.IsZero() || rec.End.IsZero() {
		return model.Event{}, fmt.Errorf("lesson %s: missing start or end: %w", rec.ID, ErrSerialization)
	}

	start := resolveLocal(rec.Start, loc)
	end := resolveLocal(rec.End, loc)
	if start.After(end) {
		return model.Event{}, fmt.Errorf("lesson %s: start %s after end %s: %w",
			rec.ID, start.Format(time.RFC3339), end.Format(time.RFC3339), ErrSerialization)
	}

	ev := model.Event{
		UID:          UID(rec.ID),
		Summary:      rec.Subject,
		Location:     rec.Room,
		Start:        start,
		End:          end,
		Status:       "CONFIRMED",
		Categories:   []string{rec.Subject, "WebUntis"},
		LastModified: now,
	}

	// Cancellations stay in the feed, flagged in both the summary and
	// the calendar-level status.
	if rec.Status == model.StatusCancelled {
		ev.Summary = CancelledMarker + " " + rec.Subject
		ev.Status = "CANCELLED"
	}

	ev.Description = buildDescription(rec)

	return ev, nil
}

// UID derives the event uid from the lesson id alone, so regeneration
// from identical source data reproduces identical uids.
func UID(lessonID string) string {
	sum := sha256.Sum256([]byte(lessonID))
	return hex.EncodeToString(sum[:])[:32] + uidSuffix
}

// resolveLocal rebuilds a naive wall-clock time in the target zone,
// component-wise. time.Date resolves DST-ambiguous and nonexistent wall
// times deterministically, so the same input maps to the same instant
// on every run.
func resolveLocal(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
}

// buildDescription mirrors what the timetable UI shows for an entry:
// long subject name, current teacher and room, status, and any notes.
// SUBSTITUTED and IRREGULAR records keep their current assignment; the
// status line is the only hint that something changed.
func buildDescription(rec model.LessonRecord) string {
	var parts []string
	if rec.SubjectLong != "" && rec.SubjectLong != rec.Subject {
		parts = append(parts, "Subject: "+rec.SubjectLong)
	}
	if rec.Teacher != "" {
		parts = append(parts, "Teacher: "+rec.Teacher)
	}
	if rec.Room != "" {
		parts = append(parts, "Room: "+rec.Room)
	}
	parts = append(parts, "Status: "+rec.Status)
	if rec.Notes != "" {
		parts = append(parts, "", "Notes: "+rec.Notes)
	}
	return strings.Join(parts, "\n")
}

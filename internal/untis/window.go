package untis

import "time"

const (
	dateLayout = "2006-01-02"

	// maxWindowDays bounds a single timetable request so the span never
	// exceeds the API's per-request page limit.
	maxWindowDays = 14
)

// Window is one bounded date range used as a pagination unit against
// the timetable API. Start and End are inclusive dates.
type Window struct {
	Start time.Time
	End   time.Time
}

// splitRange splits [start, start + weeks*7 days] into windows of at
// most maxWindowDays. Consecutive windows share their boundary date —
// the API treats both ends as inclusive, so the shared day comes back
// in both responses and is absorbed by the id de-duplication in the
// record stream.
func splitRange(start time.Time, weeks int) []Window {
	start = truncateToDate(start)
	end := start.AddDate(0, 0, weeks*7)

	var windows []Window
	for s := start; s.Before(end); {
		e := s.AddDate(0, 0, maxWindowDays)
		if e.After(end) {
			e = end
		}
		windows = append(windows, Window{Start: s, End: e})
		s = e
	}
	return windows
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

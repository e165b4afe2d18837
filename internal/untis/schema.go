package untis

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"untisfeed/internal/model"
)

// entryTimeLayout is the naive wall-clock format used by the timetable
// API, e.g. "2025-10-23T07:35".
const entryTimeLayout = "2006-01-02T15:04"

// entriesResponse mirrors the timetable entries payload: one day per
// date, each carrying its grid entries.
type entriesResponse struct {
	Days []dayEntries `json:"days"`
}

type dayEntries struct {
	Date        string      `json:"date"`
	GridEntries []gridEntry `json:"gridEntries"`
}

// gridEntry is one lesson cell of the timetable grid. The position
// slices carry the resolved current assignment: position1 holds
// teachers, position2 subjects, position3 rooms.
type gridEntry struct {
	IDs       []int64       `json:"ids"`
	Duration  entryDuration `json:"duration"`
	Type      string        `json:"type"`
	Status    string        `json:"status"`
	Position1 []position    `json:"position1"`
	Position2 []position    `json:"position2"`
	Position3 []position    `json:"position3"`
	NotesAll  string        `json:"notesAll"`
}

type entryDuration struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type position struct {
	Current positionName `json:"current"`
}

type positionName struct {
	ShortName string `json:"shortName"`
	LongName  string `json:"longName"`
}

// toRecords flattens a response into LessonRecords in chronological
// order. Days are sorted by date and entries within a day by start time
// then id, so the produced order is deterministic regardless of API
// ordering quirks.
func (r *entriesResponse) toRecords() ([]model.LessonRecord, error) {
	days := make([]dayEntries, len(r.Days))
	copy(days, r.Days)
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })

	var out []model.LessonRecord
	for _, day := range days {
		recs := make([]model.LessonRecord, 0, len(day.GridEntries))
		for _, entry := range day.GridEntries {
			rec, err := entry.toRecord()
			if err != nil {
				return nil, err
			}
			recs = append(recs, rec)
		}
		sort.Slice(recs, func(i, j int) bool {
			if !recs[i].Start.Equal(recs[j].Start) {
				return recs[i].Start.Before(recs[j].Start)
			}
			return recs[i].ID < recs[j].ID
		})
		out = append(out, recs...)
	}
	return out, nil
}

func (e *gridEntry) toRecord() (model.LessonRecord, error) {
	rec := model.LessonRecord{
		ID:     joinIDs(e.IDs),
		Status: e.Status,
		Type:   e.Type,
		Notes:  e.NotesAll,
	}
	if rec.Status == "" {
		rec.Status = model.StatusRegular
	}
	if rec.Type == "" {
		rec.Type = model.TypeNormalTeachingPeriod
	}

	// Missing duration fields are left zero; the normalizer rejects
	// them. A present but unparsable timestamp is a schema violation.
	if e.Duration.Start != "" {
		t, err := time.Parse(entryTimeLayout, e.Duration.Start)
		if err != nil {
			return rec, fmt.Errorf("entry %s: bad start %q: %w", rec.ID, e.Duration.Start, ErrParse)
		}
		rec.Start = t
	}
	if e.Duration.End != "" {
		t, err := time.Parse(entryTimeLayout, e.Duration.End)
		if err != nil {
			return rec, fmt.Errorf("entry %s: bad end %q: %w", rec.ID, e.Duration.End, ErrParse)
		}
		rec.End = t
	}

	if len(e.Position2) > 0 {
		rec.Subject = e.Position2[0].Current.ShortName
		rec.SubjectLong = e.Position2[0].Current.LongName
	}
	if rec.Subject == "" {
		rec.Subject = "Unknown"
	}
	if rec.SubjectLong == "" {
		rec.SubjectLong = rec.Subject
	}

	teachers := make([]string, 0, len(e.Position1))
	for _, p := range e.Position1 {
		if p.Current.ShortName != "" {
			teachers = append(teachers, p.Current.ShortName)
		}
	}
	rec.Teacher = strings.Join(teachers, ", ")

	if len(e.Position3) > 0 {
		rec.Room = e.Position3[0].Current.ShortName
	}

	return rec, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, "-")
}

package untis

import (
	"context"

	"untisfeed/internal/model"
	"untisfeed/internal/session"
)

// RecordStream iterates lesson records across windows in the rows.Next
// idiom:
//
//	stream := client.FetchRange(ctx, sess, weeks)
//	for stream.Next() {
//	    rec := stream.Record()
//	    ...
//	}
//	if err := stream.Err(); err != nil { ... }
//
// Windows are fetched lazily as the stream is consumed. The stream is
// single-pass; after Next returns false it stays exhausted.
type RecordStream struct {
	ctx     context.Context
	client  *Client
	sess    session.Session
	windows []Window

	widx int
	buf  []model.LessonRecord
	bi   int

	seen map[string]struct{}
	cur  model.LessonRecord
	err  error
	done bool
}

// Next advances to the next de-duplicated record, fetching the next
// window when the buffered one is drained. It returns false at the end
// of the range or on the first error.
func (s *RecordStream) Next() bool {
	if s.err != nil || s.done {
		return false
	}
	for {
		for s.bi < len(s.buf) {
			rec := s.buf[s.bi]
			s.bi++
			if _, dup := s.seen[rec.ID]; dup {
				continue
			}
			s.seen[rec.ID] = struct{}{}
			s.cur = rec
			return true
		}

		if s.widx >= len(s.windows) {
			s.done = true
			return false
		}

		w := s.windows[s.widx]
		s.widx++

		records, err := s.client.fetchWindow(s.ctx, s.sess, w)
		if err != nil {
			// A broken window aborts the whole stream; nothing from it
			// is yielded.
			s.err = err
			s.done = true
			return false
		}
		s.buf = records
		s.bi = 0
	}
}

// Record returns the record produced by the last successful Next call.
func (s *RecordStream) Record() model.LessonRecord {
	return s.cur
}

// Err returns the error that terminated the stream, if any.
func (s *RecordStream) Err() error {
	return s.err
}

// Windows exposes the planned pagination units, mainly for logging and
// tests.
func (s *RecordStream) Windows() []Window {
	return s.windows
}

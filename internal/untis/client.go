// Package untis is the timetable API client: windowed retrieval of
// lesson records over an authenticated session, with strict error
// mapping and no internal retries.
package untis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	appLog "untisfeed/internal/log"
	"untisfeed/internal/metrics"
	"untisfeed/internal/model"
	"untisfeed/internal/session"
)

const defaultTimeout = 15 * time.Second

// Client issues timetable queries. It never mutates the Session it is
// handed; expiry is surfaced as ErrAuthExpired and left to the caller.
type Client struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the derived API base URL. Intended for tests.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = base }
}

// WithTimeout bounds each individual network call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithClock overrides the range-start clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a Client for the given server hostname.
func NewClient(server string, opts ...Option) *Client {
	c := &Client{
		baseURL: "https://" + server + "/WebUntis",
		client:  &http.Client{Timeout: defaultTimeout},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// schoolYear mirrors one entry of the school-years endpoint.
type schoolYear struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	IsCurrent bool   `json:"isCurrent"`
}

// ResolveSchoolYear fetches the available school years and returns a
// copy of the session with SchoolYearID set to the current one (or the
// first listed when none is flagged current). Must run before the first
// timetable request; the entries endpoint requires the school-year
// header.
func (c *Client) ResolveSchoolYear(ctx context.Context, sess session.Session) (session.Session, error) {
	endpoint := c.baseURL + "/api/rest/view/v1/schoolyears"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return sess, err
	}
	c.authorize(req, sess)

	resp, err := c.client.Do(req)
	if err != nil {
		return sess, fmt.Errorf("school years: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return sess, fmt.Errorf("school years from %s: %w", endpoint, ErrAuthExpired)
	}
	if resp.StatusCode != http.StatusOK {
		return sess, &HTTPError{Status: resp.StatusCode, Endpoint: endpoint}
	}

	var years []schoolYear
	if err := json.NewDecoder(resp.Body).Decode(&years); err != nil {
		return sess, fmt.Errorf("school years from %s: %v: %w", endpoint, err, ErrParse)
	}
	if len(years) == 0 {
		return sess, fmt.Errorf("school years from %s: empty list: %w", endpoint, ErrParse)
	}

	chosen := years[0]
	for _, y := range years {
		if y.IsCurrent {
			chosen = y
			break
		}
	}

	appLog.Info("school year resolved", "id", chosen.ID, "name", chosen.Name, "current", chosen.IsCurrent)

	sess.SchoolYearID = fmt.Sprintf("%d", chosen.ID)
	return sess, nil
}

// FetchRange returns a lazy stream over the lesson records of the next
// weekCount weeks starting today. Windows are requested one at a time,
// only as the stream is consumed, in chronological order; overlapping
// boundary days are de-duplicated by record id. The stream is
// single-pass and non-restartable: any window failure ends it with that
// error and nothing from the broken window is yielded.
func (c *Client) FetchRange(ctx context.Context, sess session.Session, weekCount int) *RecordStream {
	s := &RecordStream{
		ctx:    ctx,
		client: c,
		sess:   sess,
		seen:   make(map[string]struct{}),
	}
	if weekCount < 1 {
		s.err = fmt.Errorf("week count must be >= 1, got %d", weekCount)
		return s
	}
	s.windows = splitRange(c.now(), weekCount)
	return s
}

// fetchWindow issues one timetable request and returns the window's
// records in chronological order.
func (c *Client) fetchWindow(ctx context.Context, sess session.Session, w Window) ([]model.LessonRecord, error) {
	endpoint := c.baseURL + "/api/rest/view/v1/timetable/entries"

	q := url.Values{}
	q.Set("start", w.Start.Format(dateLayout))
	q.Set("end", w.End.Format(dateLayout))
	q.Set("format", "4")
	q.Set("resourceType", "STUDENT")
	q.Set("resources", sess.PersonID)
	q.Set("periodTypes", "")
	q.Set("timetableType", "MY_TIMETABLE")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req, sess)
	req.Header.Set("x-webuntis-api-school-year-id", sess.SchoolYearID)

	appLog.Debug("timetable window request", "start", w.Start.Format(dateLayout), "end", w.End.Format(dateLayout))

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("timetable window %s..%s: %w",
			w.Start.Format(dateLayout), w.End.Format(dateLayout), err)
	}
	defer resp.Body.Close()
	metrics.ObserveFetchDuration(time.Since(started))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("timetable window %s..%s: %w",
			w.Start.Format(dateLayout), w.End.Format(dateLayout), ErrAuthExpired)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &HTTPError{Status: resp.StatusCode, Endpoint: endpoint, Window: w}
	}

	var payload entriesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("timetable window %s..%s: %v: %w",
			w.Start.Format(dateLayout), w.End.Format(dateLayout), err, ErrParse)
	}

	records, err := payload.toRecords()
	if err != nil {
		return nil, fmt.Errorf("timetable window %s..%s: %w",
			w.Start.Format(dateLayout), w.End.Format(dateLayout), err)
	}
	return records, nil
}

// authorize sets the bearer, tenant and cookie headers the API expects.
func (c *Client) authorize(req *http.Request, sess session.Session) {
	req.Header.Set("Authorization", "Bearer "+sess.BearerToken)
	req.Header.Set("tenant-id", sess.TenantID)
	for _, cookie := range sess.Cookies {
		req.AddCookie(cookie)
	}
}

// Collect drains a stream into a slice sorted by start time. Callers
// that want everything up front use this; laziness stays with the
// stream.
func Collect(s *RecordStream) ([]model.LessonRecord, error) {
	var out []model.LessonRecord
	for s.Next() {
		out = append(out, s.Record())
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

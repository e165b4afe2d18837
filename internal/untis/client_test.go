package untis_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"untisfeed/internal/model"
	"untisfeed/internal/session"
	"untisfeed/internal/untis"
)

var testClock = func() time.Time {
	return time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
}

func testSession() session.Session {
	return session.Session{
		BearerToken:  "test-token",
		TenantID:     "42",
		PersonID:     "1001",
		SchoolYearID: "6",
		Cookies:      []*http.Cookie{{Name: "JSESSIONID", Value: "abc"}},
	}
}

type j = map[string]any

func entry(id int64, start, end, subject, room, status, typ string) j {
	return j{
		"ids":      []int64{id},
		"duration": j{"start": start, "end": end},
		"type":     typ,
		"status":   status,
		"position1": []j{
			{"current": j{"shortName": "SMITH", "longName": "Smith"}},
		},
		"position2": []j{
			{"current": j{"shortName": subject, "longName": subject}},
		},
		"position3": []j{
			{"current": j{"shortName": room, "longName": room}},
		},
	}
}

func day(date string, entries ...j) j {
	return j{"date": date, "gridEntries": entries}
}

func writeDays(w http.ResponseWriter, days ...j) {
	json.NewEncoder(w).Encode(j{"days": days})
}

func TestWindowPlanning(t *testing.T) {
	Convey("Given a fetch of four weeks starting today", t, func() {
		client := untis.NewClient("example.test", untis.WithClock(testClock))
		stream := client.FetchRange(context.Background(), testSession(), 4)
		windows := stream.Windows()

		Convey("Then the windows cover the full span with no gaps", func() {
			So(windows, ShouldHaveLength, 2)
			So(windows[0].Start.Format("2006-01-02"), ShouldEqual, "2024-05-01")
			So(windows[len(windows)-1].End.Format("2006-01-02"), ShouldEqual, "2024-05-29")
			for i := 1; i < len(windows); i++ {
				So(windows[i].Start.Equal(windows[i-1].End), ShouldBeTrue)
			}
		})

		Convey("And each window stays within the per-request limit", func() {
			for _, w := range windows {
				So(w.End.Sub(w.Start), ShouldBeLessThanOrEqualTo, 14*24*time.Hour)
				So(w.Start.After(w.End), ShouldBeFalse)
			}
		})
	})
}

func TestFetchRangeMerging(t *testing.T) {
	Convey("Given an API where adjacent windows share a boundary day", t, func() {
		var hits atomic.Int32

		mux := http.NewServeMux()
		mux.HandleFunc("/api/rest/view/v1/timetable/entries", func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			switch r.URL.Query().Get("start") {
			case "2024-05-01":
				writeDays(w,
					day("2024-05-01", entry(1, "2024-05-01T08:00", "2024-05-01T08:45", "Math", "101", "REGULAR", "NORMAL_TEACHING_PERIOD")),
					day("2024-05-15", entry(7, "2024-05-15T09:00", "2024-05-15T09:45", "Physics", "202", "REGULAR", "NORMAL_TEACHING_PERIOD")),
				)
			case "2024-05-15":
				writeDays(w,
					day("2024-05-15", entry(7, "2024-05-15T09:00", "2024-05-15T09:45", "Physics", "202", "REGULAR", "NORMAL_TEACHING_PERIOD")),
					day("2024-05-20", entry(2, "2024-05-20T10:00", "2024-05-20T10:45", "Chemistry", "303", "CANCELLED", "NORMAL_TEACHING_PERIOD")),
				)
			default:
				w.WriteHeader(http.StatusBadRequest)
			}
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		client := untis.NewClient("example.test",
			untis.WithBaseURL(srv.URL),
			untis.WithClock(testClock),
		)

		Convey("When the full range is collected", func() {
			records, err := untis.Collect(client.FetchRange(context.Background(), testSession(), 4))

			Convey("Then the merged output is chronological with the boundary lesson exactly once", func() {
				So(err, ShouldBeNil)
				So(records, ShouldHaveLength, 3)
				So(records[0].ID, ShouldEqual, "1")
				So(records[1].ID, ShouldEqual, "7")
				So(records[2].ID, ShouldEqual, "2")
			})

			Convey("And record fields come through the schema", func() {
				So(err, ShouldBeNil)
				So(records[0].Subject, ShouldEqual, "Math")
				So(records[0].Room, ShouldEqual, "101")
				So(records[0].Teacher, ShouldEqual, "SMITH")
				So(records[0].Start.Format("2006-01-02T15:04"), ShouldEqual, "2024-05-01T08:00")
				So(records[2].Status, ShouldEqual, model.StatusCancelled)
			})
		})

		Convey("When the stream is created but not consumed", func() {
			before := hits.Load()
			stream := client.FetchRange(context.Background(), testSession(), 4)

			Convey("Then no window has been requested yet", func() {
				So(hits.Load(), ShouldEqual, before)
			})

			Convey("And consuming one record requests exactly one window", func() {
				So(stream.Next(), ShouldBeTrue)
				So(hits.Load(), ShouldEqual, before+1)
			})
		})
	})
}

func TestFetchRangeErrorMapping(t *testing.T) {
	Convey("Given windowed fetches against a failing API", t, func() {
		Convey("When the second window returns 401", func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/api/rest/view/v1/timetable/entries", func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("start") == "2024-05-01" {
					writeDays(w, day("2024-05-02", entry(1, "2024-05-02T08:00", "2024-05-02T08:45", "Math", "101", "REGULAR", "NORMAL_TEACHING_PERIOD")))
					return
				}
				w.WriteHeader(http.StatusUnauthorized)
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			client := untis.NewClient("example.test", untis.WithBaseURL(srv.URL), untis.WithClock(testClock))
			records, err := untis.Collect(client.FetchRange(context.Background(), testSession(), 4))

			Convey("Then the whole fetch aborts as session expiry", func() {
				So(errors.Is(err, untis.ErrAuthExpired), ShouldBeTrue)
				So(records, ShouldBeNil)
			})
		})

		Convey("When the API returns a server error", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			}))
			defer srv.Close()

			client := untis.NewClient("example.test", untis.WithBaseURL(srv.URL), untis.WithClock(testClock))
			_, err := untis.Collect(client.FetchRange(context.Background(), testSession(), 1))

			Convey("Then it maps to an HTTP error carrying the status", func() {
				var httpErr *untis.HTTPError
				So(errors.As(err, &httpErr), ShouldBeTrue)
				So(httpErr.Status, ShouldEqual, http.StatusBadGateway)
			})
		})

		Convey("When the payload is not the expected schema", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(`{"days": [{"gridEntries": "not-a-list"}]}`))
			}))
			defer srv.Close()

			client := untis.NewClient("example.test", untis.WithBaseURL(srv.URL), untis.WithClock(testClock))
			_, err := untis.Collect(client.FetchRange(context.Background(), testSession(), 1))

			Convey("Then it maps to a parse error", func() {
				So(errors.Is(err, untis.ErrParse), ShouldBeTrue)
			})
		})
	})
}

func TestAuthorizationHeaders(t *testing.T) {
	Convey("Given a timetable request", t, func() {
		var gotAuth, gotTenant, gotYear string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotTenant = r.Header.Get("tenant-id")
			gotYear = r.Header.Get("x-webuntis-api-school-year-id")
			writeDays(w)
		}))
		defer srv.Close()

		client := untis.NewClient("example.test", untis.WithBaseURL(srv.URL), untis.WithClock(testClock))
		_, err := untis.Collect(client.FetchRange(context.Background(), testSession(), 1))

		Convey("Then the session headers are attached", func() {
			So(err, ShouldBeNil)
			So(gotAuth, ShouldEqual, "Bearer test-token")
			So(gotTenant, ShouldEqual, "42")
			So(gotYear, ShouldEqual, "6")
		})
	})
}

func TestResolveSchoolYear(t *testing.T) {
	Convey("Given the school-years endpoint", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode([]j{
				{"id": 5, "name": "2023/2024", "isCurrent": false},
				{"id": 6, "name": "2024/2025", "isCurrent": true},
			})
		}))
		defer srv.Close()

		client := untis.NewClient("example.test", untis.WithBaseURL(srv.URL))
		sess := testSession()
		sess.SchoolYearID = ""

		Convey("When resolving", func() {
			resolved, err := client.ResolveSchoolYear(context.Background(), sess)

			Convey("Then the current year's id lands on a session copy", func() {
				So(err, ShouldBeNil)
				So(resolved.SchoolYearID, ShouldEqual, "6")
				So(sess.SchoolYearID, ShouldEqual, "")
			})
		})
	})
}

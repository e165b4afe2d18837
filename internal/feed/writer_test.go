package feed_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	. "github.com/smartystreets/goconvey/convey"

	"untisfeed/internal/feed"
	"untisfeed/internal/model"
	"untisfeed/internal/normalize"
)

var generated = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func mathEvent() model.Event {
	return model.Event{
		UID:          normalize.UID("1"),
		Summary:      "Math",
		Location:     "101",
		Start:        time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		End:          time.Date(2024, 5, 1, 8, 45, 0, 0, time.UTC),
		Status:       "CONFIRMED",
		Categories:   []string{"Math", "WebUntis"},
		LastModified: generated,
	}
}

func TestRenderScenario(t *testing.T) {
	Convey("Given the Math lesson event", t, func() {
		ev := mathEvent()

		Convey("When rendered", func() {
			data := feed.Render([]model.Event{ev}, feed.WriteOptions{
				CalendarName: "WebUntis - student1",
				Timezone:     "Europe/Berlin",
				Generated:    generated,
			})
			text := string(data)

			Convey("Then the document wraps one event block with the required fields", func() {
				So(text, ShouldStartWith, "BEGIN:VCALENDAR\r\n")
				So(text, ShouldEndWith, "END:VCALENDAR\r\n")
				So(text, ShouldContainSubstring, "BEGIN:VEVENT\r\n")
				So(text, ShouldContainSubstring, "UID:"+normalize.UID("1"))
				So(text, ShouldContainSubstring, "DTSTART:20240501T080000Z")
				So(text, ShouldContainSubstring, "DTEND:20240501T084500Z")
				So(text, ShouldContainSubstring, "SUMMARY:Math")
				So(text, ShouldContainSubstring, "LOCATION:101")
				So(text, ShouldContainSubstring, "STATUS:CONFIRMED")
				So(text, ShouldContainSubstring, "DTSTAMP:20240501T120000Z")
			})
		})
	})
}

func TestRenderDeterminism(t *testing.T) {
	Convey("Given an event sequence", t, func() {
		events := []model.Event{mathEvent()}
		opts := feed.WriteOptions{CalendarName: "Cal", Timezone: "Europe/Berlin", Generated: generated}

		Convey("When rendered twice", func() {
			first := feed.Render(events, opts)
			second := feed.Render(events, opts)

			Convey("Then the output bytes are identical", func() {
				So(bytes.Equal(first, second), ShouldBeTrue)
			})
		})
	})
}

func TestNormalizeAndRenderIdempotence(t *testing.T) {
	Convey("Given the same lesson records normalized and serialized twice", t, func() {
		records := []model.LessonRecord{
			{
				ID: "1", Subject: "Math", SubjectLong: "Mathematics", Teacher: "SMITH", Room: "101",
				Start: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
				End:   time.Date(2024, 5, 1, 8, 45, 0, 0, time.UTC),
				Status: model.StatusRegular, Type: model.TypeNormalTeachingPeriod,
			},
			{
				ID: "2", Subject: "Art", SubjectLong: "Art", Teacher: "DOE", Room: "7",
				Start: time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC),
				End:   time.Date(2024, 5, 2, 9, 45, 0, 0, time.UTC),
				Status: model.StatusCancelled, Type: model.TypeNormalTeachingPeriod,
			},
		}
		nopts := normalize.Options{Location: time.UTC, Now: generated}
		wopts := feed.WriteOptions{CalendarName: "Cal", Generated: generated}

		run := func() []byte {
			events, err := normalize.Normalize(records, nopts)
			So(err, ShouldBeNil)
			return feed.Render(events, wopts)
		}

		Convey("Then both passes produce byte-identical documents", func() {
			So(bytes.Equal(run(), run()), ShouldBeTrue)
		})
	})
}

func TestRenderEscaping(t *testing.T) {
	Convey("Given an event with reserved characters", t, func() {
		ev := mathEvent()
		ev.Summary = `Math; Lab, Part A\B`
		ev.Description = "line one\nline two"
		ev.Categories = nil

		Convey("When rendered", func() {
			text := string(feed.Render([]model.Event{ev}, feed.WriteOptions{Generated: generated}))

			Convey("Then commas, semicolons, backslashes and newlines are escaped", func() {
				So(text, ShouldContainSubstring, `SUMMARY:Math\; Lab\, Part A\\B`)
				So(text, ShouldContainSubstring, `DESCRIPTION:line one\nline two`)
			})
		})
	})
}

func TestRenderFolding(t *testing.T) {
	Convey("Given an event whose summary exceeds the line limit", t, func() {
		ev := mathEvent()
		ev.Summary = strings.Repeat("abcdefghij", 30)

		Convey("When rendered", func() {
			data := feed.Render([]model.Event{ev}, feed.WriteOptions{Generated: generated})
			lines := strings.Split(string(data), "\r\n")

			Convey("Then no physical line exceeds 75 octets", func() {
				for _, line := range lines {
					So(len(line), ShouldBeLessThanOrEqualTo, 75)
				}
			})

			Convey("And unfolding recovers the original content line", func() {
				unfolded := strings.ReplaceAll(string(data), "\r\n ", "")
				So(unfolded, ShouldContainSubstring, "SUMMARY:"+ev.Summary)
			})
		})
	})
}

func TestRoundTrip(t *testing.T) {
	Convey("Given a rendered feed of two events", t, func() {
		evs := []model.Event{mathEvent()}
		second := mathEvent()
		second.UID = normalize.UID("2")
		second.Summary = "Physics"
		second.Start = time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
		second.End = time.Date(2024, 5, 2, 9, 45, 0, 0, time.UTC)
		evs = append(evs, second)

		data := feed.Render(evs, feed.WriteOptions{CalendarName: "Cal", Generated: generated})

		Convey("When parsed back", func() {
			cal, err := feed.Parse(data)

			Convey("Then the (uid, start, end, summary) tuples survive", func() {
				So(err, ShouldBeNil)
				parsed := cal.Events()
				So(parsed, ShouldHaveLength, len(evs))

				for i, ve := range parsed {
					uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
					So(uid, ShouldNotBeNil)
					So(uid.Value, ShouldEqual, evs[i].UID)

					summary := ve.GetProperty(ical.ComponentPropertySummary)
					So(summary, ShouldNotBeNil)
					So(summary.Value, ShouldEqual, evs[i].Summary)

					start, serr := ve.GetStartAt()
					So(serr, ShouldBeNil)
					So(start.Equal(evs[i].Start), ShouldBeTrue)

					end, eerr := ve.GetEndAt()
					So(eerr, ShouldBeNil)
					So(end.Equal(evs[i].End), ShouldBeTrue)
				}
			})
		})
	})
}

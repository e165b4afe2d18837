// Package feed serializes canonical events into an iCalendar document
// and publishes it atomically. Output is deterministic: identical event
// sequences produce identical bytes, so regeneration of an unchanged
// timetable never churns subscribers' calendars.
package feed

import (
	"bytes"
	"strings"
	"time"
	"unicode/utf8"

	"untisfeed/internal/model"
)

const (
	// DefaultProdID identifies this generator in the calendar header.
	DefaultProdID = "-//untisfeed//EN"

	// foldLimit is the maximum content-line length in octets before
	// folding, per the calendar text format.
	foldLimit = 75

	dtLayout = "20060102T150405Z"
)

// WriteOptions controls calendar-level properties.
type WriteOptions struct {
	// CalendarName becomes X-WR-CALNAME when set.
	CalendarName string

	// Timezone becomes X-WR-TIMEZONE when set. Event timestamps are
	// always emitted in UTC; this property only hints display.
	Timezone string

	// Generated stamps DTSTAMP on every event block. It is part of the
	// writer's input precisely so output stays a pure function of its
	// arguments.
	Generated time.Time

	// ProdID overrides DefaultProdID.
	ProdID string
}

// Render serializes the events into a complete calendar document. Event
// order, property order and formatting are fixed, so identical input
// yields identical bytes.
func Render(events []model.Event, opts WriteOptions) []byte {
	prodID := opts.ProdID
	if prodID == "" {
		prodID = DefaultProdID
	}

	var buf bytes.Buffer
	writeLine(&buf, "BEGIN:VCALENDAR")
	writeLine(&buf, "VERSION:2.0")
	writeLine(&buf, "PRODID:"+prodID)
	writeLine(&buf, "CALSCALE:GREGORIAN")
	writeLine(&buf, "METHOD:PUBLISH")
	if opts.CalendarName != "" {
		writeLine(&buf, "X-WR-CALNAME:"+escapeText(opts.CalendarName))
	}
	if opts.Timezone != "" {
		writeLine(&buf, "X-WR-TIMEZONE:"+escapeText(opts.Timezone))
	}

	for _, ev := range events {
		writeEvent(&buf, ev, opts.Generated)
	}

	writeLine(&buf, "END:VCALENDAR")
	return buf.Bytes()
}

func writeEvent(buf *bytes.Buffer, ev model.Event, generated time.Time) {
	writeLine(buf, "BEGIN:VEVENT")
	writeLine(buf, "UID:"+escapeText(ev.UID))
	writeLine(buf, "DTSTAMP:"+generated.UTC().Format(dtLayout))
	writeLine(buf, "DTSTART:"+ev.Start.UTC().Format(dtLayout))
	writeLine(buf, "DTEND:"+ev.End.UTC().Format(dtLayout))
	writeLine(buf, "SUMMARY:"+escapeText(ev.Summary))
	if ev.Location != "" {
		writeLine(buf, "LOCATION:"+escapeText(ev.Location))
	}
	if ev.Description != "" {
		writeLine(buf, "DESCRIPTION:"+escapeText(ev.Description))
	}
	if len(ev.Categories) > 0 {
		items := make([]string, len(ev.Categories))
		for i, c := range ev.Categories {
			items[i] = escapeText(c)
		}
		writeLine(buf, "CATEGORIES:"+strings.Join(items, ","))
	}
	if ev.Status != "" {
		writeLine(buf, "STATUS:"+ev.Status)
	}
	if !ev.LastModified.IsZero() {
		writeLine(buf, "LAST-MODIFIED:"+ev.LastModified.UTC().Format(dtLayout))
	}
	writeLine(buf, "END:VEVENT")
}

// writeLine folds the content line at the octet limit and terminates
// each physical line with CRLF.
func writeLine(buf *bytes.Buffer, line string) {
	for _, physical := range foldLine(line) {
		buf.WriteString(physical)
		buf.WriteString("\r\n")
	}
}

// foldLine splits a content line into physical lines of at most
// foldLimit octets. Continuation lines start with a single space and
// multi-byte runes are never split.
func foldLine(s string) []string {
	if len(s) <= foldLimit {
		return []string{s}
	}

	var lines []string
	cur := make([]byte, 0, foldLimit)
	budget := foldLimit
	for _, r := range s {
		if len(cur)+utf8.RuneLen(r) > budget {
			lines = append(lines, string(cur))
			cur = cur[:0]
			// Continuation lines spend one octet on the leading space.
			budget = foldLimit - 1
		}
		cur = utf8.AppendRune(cur, r)
	}
	lines = append(lines, string(cur))

	for i := 1; i < len(lines); i++ {
		lines[i] = " " + lines[i]
	}
	return lines
}

// escapeText escapes the characters the calendar text format reserves:
// backslash, semicolon, comma and newline. Carriage returns are
// dropped.
func escapeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case ';':
			b.WriteString(`\;`)
		case ',':
			b.WriteString(`\,`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			// skip
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

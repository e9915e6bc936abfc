package ics

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "ktutimetable/internal/log"
	"ktutimetable/internal/model"
)

// ParseOptions tunes how an ICS payload becomes a timetable.
type ParseOptions struct {
	// RecurrenceWeeks bounds RRULE expansion, counted from an event's first
	// occurrence. Zero means defaultRecurrenceWeeks.
	RecurrenceWeeks int
}

// moduleNamePattern matches course-code prefixed summaries such as
// "P123B123 Intro to Systems".
var moduleNamePattern = regexp.MustCompile(`^\w\d{3}\w\d{3} (.+)`)

var categoryByName = map[string]model.Category{
	"Yellow Category": model.CategoryYellow,
	"Green Category":  model.CategoryGreen,
	"Red Category":    model.CategoryRed,
	"Blue Category":   model.CategoryBlue,
}

// parsedEvent is a VEVENT with every required property present, before
// recurrence expansion.
type parsedEvent struct {
	event model.Event

	uid      string
	rawRRule string
	exDates  []time.Time
	// recurrenceID is set on an override of one instance of a recurring
	// event with the same UID.
	recurrenceID *time.Time
}

// Parse converts an ICS payload into a sorted timetable.
//
//   - A body without a calendar block, or one the parser rejects, yields
//     ErrNotFound.
//   - A calendar without VEVENTs yields ErrEmptyTimetable.
//   - A VEVENT missing CATEGORIES, DTSTART, DTEND, DESCRIPTION, SUMMARY or
//     LOCATION, or carrying an unparseable DTSTART/DTEND, is logged and
//     skipped. If nothing survives the result is ErrEmptyTimetable.
//   - VEVENTs with an RRULE are expanded into one event per occurrence. A
//     VEVENT with the same UID and a RECURRENCE-ID replaces the occurrence
//     starting at that time.
func Parse(body []byte, opts ParseOptions) (*model.Timetable, error) {
	if !bytes.Contains(bytes.ToUpper(body), []byte("BEGIN:VCALENDAR")) {
		return nil, fmt.Errorf("%w: no calendar block in body", ErrNotFound)
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if cal == nil {
		return nil, fmt.Errorf("%w: no calendar block in body", ErrNotFound)
	}

	vevents := cal.Events()
	if len(vevents) == 0 {
		return nil, ErrEmptyTimetable
	}

	parsed := make([]parsedEvent, 0, len(vevents))
	skipped := 0
	for i, ve := range vevents {
		pe, perr := parseVEvent(ve)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Warn("ics vevent skipped", "index", i, "reason", perr.Error())
			skipped++
			continue
		}
		parsed = append(parsed, pe)
	}
	events := expandEvents(parsed, opts)

	appLog.Info("ics parse completed", "vevent_count", len(vevents), "event_count", len(events), "skipped", skipped)

	if len(events) == 0 {
		return nil, ErrEmptyTimetable
	}
	return model.NewTimetable(events), nil
}

func parseVEvent(ve *ical.VEvent) (parsedEvent, error) {
	var out parsedEvent

	required := []ical.ComponentProperty{
		ical.ComponentPropertyCategories,
		ical.ComponentPropertyDtStart,
		ical.ComponentPropertyDtEnd,
		ical.ComponentPropertyDescription,
		ical.ComponentPropertySummary,
		ical.ComponentPropertyLocation,
	}
	values := make(map[ical.ComponentProperty]string, len(required))
	for _, name := range required {
		p := ve.GetProperty(name)
		if p == nil {
			return out, fmt.Errorf("property %s not found", name)
		}
		values[name] = p.Value
	}

	date, start, err := splitDateTime(values[ical.ComponentPropertyDtStart])
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	// Only the end time of day is kept; events crossing midnight are not
	// supported.
	_, end, err := splitDateTime(values[ical.ComponentPropertyDtEnd])
	if err != nil {
		return out, fmt.Errorf("DTEND: %w", err)
	}

	summary := unescapeText(values[ical.ComponentPropertySummary])
	out.event = model.Event{
		Category:    CategoryOf(values[ical.ComponentPropertyCategories]),
		Date:        date,
		StartTime:   start,
		EndTime:     end,
		Description: unescapeText(values[ical.ComponentPropertyDescription]),
		Summary:     summary,
		Location:    unescapeText(values[ical.ComponentPropertyLocation]),
		ModuleName:  ModuleName(summary),
	}

	if uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId); uidProp != nil {
		out.uid = uidProp.Value
	}
	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.rawRRule = rruleProp.Value
	}

	// EXDATE (can appear multiple times)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out.exDates = append(out.exDates, t)
			}
		}
	}

	// RECURRENCE-ID (overridden instance)
	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		if t, err := parseICSTime(ridProp.Value); err == nil {
			out.recurrenceID = &t
		}
	}

	return out, nil
}

// CategoryOf maps a CATEGORIES value onto the fixed palette. Unknown and
// empty values map to CategoryDefault.
func CategoryOf(value string) model.Category {
	if c, ok := categoryByName[value]; ok {
		return c
	}
	return model.CategoryDefault
}

// ModuleName extracts the module title from a course-code prefixed summary,
// returning "" when the summary has no such prefix.
func ModuleName(summary string) string {
	m := moduleNamePattern.FindStringSubmatch(summary)
	if m == nil {
		return ""
	}
	return m[1]
}

// splitDateTime parses a YYYYMMDDTHHMMSS value into its naive date and time
// of day. A trailing UTC marker is ignored.
func splitDateTime(v string) (time.Time, model.Clock, error) {
	datePart, timePart, ok := strings.Cut(strings.TrimSpace(v), "T")
	if !ok {
		return time.Time{}, 0, fmt.Errorf("value %q has no time part", v)
	}
	d, err := time.Parse("20060102", datePart)
	if err != nil {
		return time.Time{}, 0, err
	}
	t, err := time.Parse("150405", strings.TrimSuffix(timePart, "Z"))
	if err != nil {
		return time.Time{}, 0, err
	}
	return model.DateOf(d), model.ClockOf(t), nil
}

// parseICSTime parses a basic ICS date/date-time string into a naive
// time.Time in UTC, which is how all timetable times are represented.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSuffix(strings.TrimSpace(v), "Z")
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		return time.Parse("20060102T150405", v)
	}

	// Date-only, e.g., 20250101
	return time.Parse("20060102", v)
}

var textUnescaper = strings.NewReplacer(
	`\\`, `\`,
	`\,`, `,`,
	`\;`, `;`,
	`\n`, "\n",
	`\N`, "\n",
)

// unescapeText undoes RFC 5545 TEXT escaping.
func unescapeText(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	return textUnescaper.Replace(v)
}

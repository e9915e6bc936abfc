package model

import (
	"fmt"
	"sort"
	"time"
)

// Category is the visual classification tag attached to a timetable event.
// It drives the card colour only and carries no scheduling meaning.
type Category int

const (
	CategoryDefault Category = iota
	CategoryYellow
	CategoryGreen
	CategoryRed
	CategoryBlue
)

func (c Category) String() string {
	switch c {
	case CategoryYellow:
		return "yellow"
	case CategoryGreen:
		return "green"
	case CategoryRed:
		return "red"
	case CategoryBlue:
		return "blue"
	default:
		return "default"
	}
}

// Clock is a naive time of day, stored as seconds since midnight.
type Clock int

// NewClock builds a Clock from its components. Out-of-range values are not
// normalized.
func NewClock(hour, minute, second int) Clock {
	return Clock(hour*3600 + minute*60 + second)
}

func (c Clock) Hour() int   { return int(c) / 3600 }
func (c Clock) Minute() int { return int(c) % 3600 / 60 }
func (c Clock) Second() int { return int(c) % 60 }

// Minutes returns the minute of day, truncating seconds.
func (c Clock) Minutes() int { return int(c) / 60 }

// Sub returns the duration c-o, which is negative when o is later.
func (c Clock) Sub(o Clock) time.Duration {
	return time.Duration(int(c)-int(o)) * time.Second
}

// String formats the clock as zero-padded 24-hour HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// ClockOf returns the wall-clock time of day of t.
func ClockOf(t time.Time) Clock {
	return NewClock(t.Hour(), t.Minute(), t.Second())
}

// Date builds a naive calendar date (midnight UTC).
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf keeps only the calendar date of t, discarding its location.
func DateOf(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

// WeekdayIndex returns the day offset from Monday (Monday=0 .. Sunday=6).
func WeekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// IsWeekend reports whether t falls on Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	d := t.Weekday()
	return d == time.Saturday || d == time.Sunday
}

// Event is one scheduled timetable occurrence. Dates and times are naive:
// no timezone conversion is ever applied.
type Event struct {
	Category Category

	// Date is the calendar day (midnight UTC).
	Date      time.Time
	StartTime Clock
	EndTime   Clock

	Description string
	Summary     string
	Location    string

	// ModuleName is derived from Summary when it carries a course code
	// prefix; empty otherwise.
	ModuleName string
}

// Title is the text shown on an event card.
func (e Event) Title() string {
	if e.ModuleName != "" {
		return e.ModuleName
	}
	return e.Summary
}

// Week returns the ISO week the event falls in.
func (e Event) Week() IsoWeek {
	return WeekOf(e.Date)
}

// Timetable is the full ordered collection of events for one identifier.
// It is never mutated after construction.
type Timetable struct {
	events []Event
}

// NewTimetable copies events and stable-sorts them by (date, start time).
func NewTimetable(events []Event) *Timetable {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.StartTime < b.StartTime
	})
	return &Timetable{events: sorted}
}

// Len returns the number of events.
func (t *Timetable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.events)
}

// Events returns a copy of all events in sort order.
func (t *Timetable) Events() []Event {
	if t == nil {
		return nil
	}
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// EventsInWeek returns the events whose date lies in week, preserving order.
func (t *Timetable) EventsInWeek(week IsoWeek) []Event {
	out := make([]Event, 0)
	if t == nil {
		return out
	}
	for _, e := range t.events {
		if e.Week() == week {
			out = append(out, e)
		}
	}
	return out
}

// MaxEndTime returns the latest end time of any event, or false when the
// timetable is empty.
func (t *Timetable) MaxEndTime() (Clock, bool) {
	if t.Len() == 0 {
		return 0, false
	}
	latest := t.events[0].EndTime
	for _, e := range t.events[1:] {
		if e.EndTime > latest {
			latest = e.EndTime
		}
	}
	return latest, true
}

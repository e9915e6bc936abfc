package ics

import (
	"time"

	"github.com/teambition/rrule-go"

	appLog "ktutimetable/internal/log"
	"ktutimetable/internal/model"
)

const (
	defaultRecurrenceWeeks        = 26
	defaultMaxOccurrencesPerEvent = 500
)

// expandEvents groups overrides by UID and expands every base event with
// the overrides of its UID. An override whose UID has no base event is kept
// as a plain event.
func expandEvents(parsed []parsedEvent, opts ParseOptions) []model.Event {
	overridesByUID := make(map[string][]parsedEvent)
	hasBase := make(map[string]bool)
	for _, pe := range parsed {
		if pe.isOverride() {
			overridesByUID[pe.uid] = append(overridesByUID[pe.uid], pe)
		} else {
			hasBase[pe.uid] = true
		}
	}

	out := make([]model.Event, 0, len(parsed))
	for _, pe := range parsed {
		switch {
		case !pe.isOverride():
			out = append(out, expandEvent(pe, overridesByUID[pe.uid], opts)...)
		case !hasBase[pe.uid]:
			out = append(out, pe.event)
		}
	}
	return out
}

func (pe parsedEvent) isOverride() bool {
	return pe.recurrenceID != nil && pe.uid != ""
}

// start is the naive start instant. Timetable times are naive, so UTC
// stands in for "no timezone".
func (pe parsedEvent) start() time.Time {
	return pe.event.Date.Add(time.Duration(pe.event.StartTime) * time.Second)
}

// findOverrideForStart returns the override whose RECURRENCE-ID equals
// start.
func findOverrideForStart(overrides []parsedEvent, start time.Time) (model.Event, bool) {
	for _, ov := range overrides {
		if ov.recurrenceID.Equal(start) {
			return ov.event, true
		}
	}
	return model.Event{}, false
}

// expandEvent turns a parsed VEVENT into concrete events. Events without an
// RRULE map to exactly one event.
func expandEvent(pe parsedEvent, overrides []parsedEvent, opts ParseOptions) []model.Event {
	if pe.rawRRule == "" {
		if o, ok := findOverrideForStart(overrides, pe.start()); ok {
			return []model.Event{o}
		}
		return []model.Event{pe.event}
	}

	weeks := opts.RecurrenceWeeks
	if weeks <= 0 {
		weeks = defaultRecurrenceWeeks
	}

	r, err := rrule.StrToRRule(pe.rawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE; keeping first occurrence", err, "rrule", pe.rawRRule)
		return []model.Event{pe.event}
	}

	start := pe.start()
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range pe.exDates {
		set.ExDate(ex)
	}

	occTimes := set.Between(start, start.AddDate(0, 0, 7*weeks), true)
	if len(occTimes) > defaultMaxOccurrencesPerEvent {
		appLog.Warn("expand: truncated occurrences due to cap", "rrule", pe.rawRRule, "cap", defaultMaxOccurrencesPerEvent)
		occTimes = occTimes[:defaultMaxOccurrencesPerEvent]
	}

	duration := pe.event.EndTime.Sub(pe.event.StartTime)
	out := make([]model.Event, 0, len(occTimes))
	for _, occ := range occTimes {
		if o, ok := findOverrideForStart(overrides, occ); ok {
			out = append(out, o)
			continue
		}
		e := pe.event
		e.Date = model.DateOf(occ)
		e.StartTime = model.ClockOf(occ)
		e.EndTime = e.StartTime + model.Clock(duration/time.Second)
		out = append(out, e)
	}
	return out
}

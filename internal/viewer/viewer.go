// Package viewer holds the shown-week selection: the displayed ISO week, the
// backing timetable and the events materialised for that week.
package viewer

import (
	"sync"
	"time"

	"ktutimetable/internal/model"
)

// DefaultMaxWeeksAhead caps forward navigation relative to the current week.
const DefaultMaxWeeksAhead = 48

// CurrentWeek is the week shown by default: on weekends the following week,
// otherwise the week containing now.
func CurrentWeek(now time.Time) model.IsoWeek {
	if model.IsWeekend(now) {
		return model.WeekOf(now.AddDate(0, 0, 7))
	}
	return model.WeekOf(now)
}

// Options configures a Viewer. Zero values select defaults.
type Options struct {
	MaxWeeksAhead int
	// Now is the wall clock; time.Now when nil.
	Now func() time.Time
}

// Viewer is safe for concurrent use: a background refresh may replace the
// timetable while a display adapter reads snapshots.
type Viewer struct {
	now      func() time.Time
	maxAhead int

	mu        sync.RWMutex
	timetable *model.Timetable
	week      model.IsoWeek
	events    []model.Event
}

// Snapshot is a consistent read of the viewer state.
type Snapshot struct {
	Week   model.IsoWeek
	Events []model.Event
	Now    time.Time
	Loaded bool
}

func New(opts Options) *Viewer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxWeeksAhead <= 0 {
		opts.MaxWeeksAhead = DefaultMaxWeeksAhead
	}
	v := &Viewer{now: opts.Now, maxAhead: opts.MaxWeeksAhead}
	v.week = CurrentWeek(v.now())
	v.events = []model.Event{}
	return v
}

// SetTimetable replaces the backing timetable wholesale. A nil timetable
// clears the view.
func (v *Viewer) SetTimetable(t *model.Timetable) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.timetable = t
	v.events = t.EventsInWeek(v.week)
}

// Timetable returns the backing timetable, or nil before the first load.
func (v *Viewer) Timetable() *model.Timetable {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.timetable
}

// Week returns the shown week. A shown week the clock has left behind is
// replaced by the current week first.
func (v *Viewer) Week() model.IsoWeek {
	now := v.now()
	v.mu.Lock()
	defer v.mu.Unlock()
	v.followClockLocked(now)
	return v.week
}

// Events returns a copy of the shown week's events.
func (v *Viewer) Events() []model.Event {
	now := v.now()
	v.mu.Lock()
	defer v.mu.Unlock()
	v.followClockLocked(now)
	out := make([]model.Event, len(v.events))
	copy(out, v.events)
	return out
}

// Snapshot reads the shown week, moved forward to the current week if the
// clock has passed it.
func (v *Viewer) Snapshot() Snapshot {
	now := v.now()
	v.mu.Lock()
	defer v.mu.Unlock()
	v.followClockLocked(now)
	events := make([]model.Event, len(v.events))
	copy(events, v.events)
	return Snapshot{
		Week:   v.week,
		Events: events,
		Now:    now,
		Loaded: v.timetable != nil,
	}
}

// SnapshotOf reads week w, clamped like Shift, without changing the shown
// week.
func (v *Viewer) SnapshotOf(w model.IsoWeek) Snapshot {
	now := v.now()
	w = v.clamp(w, now)
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Snapshot{
		Week:   w,
		Events: v.timetable.EventsInWeek(w),
		Now:    now,
		Loaded: v.timetable != nil,
	}
}

// Shift moves the shown week by n whole weeks, clamped to
// [current week, current week + MaxWeeksAhead]. It returns the new week.
func (v *Viewer) Shift(n int) model.IsoWeek {
	now := v.now()
	v.mu.Lock()
	defer v.mu.Unlock()
	v.followClockLocked(now)
	return v.showLocked(v.clamp(v.week.AddWeeks(n), now))
}

// SetWeek shows w, clamped like Shift.
func (v *Viewer) SetWeek(w model.IsoWeek) model.IsoWeek {
	now := v.now()
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.showLocked(v.clamp(w, now))
}

// Reset returns to the current week.
func (v *Viewer) Reset() model.IsoWeek {
	now := v.now()
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.showLocked(CurrentWeek(now))
}

// Bounds returns the navigable range of weeks as of now.
func (v *Viewer) Bounds() (first, last model.IsoWeek) {
	return v.bounds(v.now())
}

func (v *Viewer) bounds(now time.Time) (first, last model.IsoWeek) {
	current := CurrentWeek(now)
	return current, current.AddWeeks(v.maxAhead)
}

func (v *Viewer) clamp(w model.IsoWeek, now time.Time) model.IsoWeek {
	first, last := v.bounds(now)
	switch {
	case w.Before(first):
		return first
	case w.After(last):
		return last
	}
	return w
}

// followClockLocked keeps the shown week from falling into the past.
func (v *Viewer) followClockLocked(now time.Time) {
	if current := CurrentWeek(now); v.week.Before(current) {
		v.showLocked(current)
	}
}

func (v *Viewer) showLocked(w model.IsoWeek) model.IsoWeek {
	if w != v.week {
		v.week = w
		v.events = v.timetable.EventsInWeek(w)
	}
	return w
}

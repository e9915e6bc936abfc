// Package refresh fetches the timetable off the display path and swaps it
// into the viewer, once on demand and periodically on a cron schedule.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ktutimetable/internal/ics"
	appLog "ktutimetable/internal/log"
	"ktutimetable/internal/model"
)

// ErrNoIdentifier is returned when a refresh runs before an identifier is
// known.
var ErrNoIdentifier = errors.New("no timetable identifier configured")

// Sink receives successfully fetched timetables.
type Sink interface {
	SetTimetable(t *model.Timetable)
}

// Status describes the outcome of the most recent refresh.
type Status struct {
	LastAttempt time.Time
	LastSuccess time.Time
	LastError   error
	EventCount  int
}

// Refresher serializes fetches: at most one runs at a time, and a failed
// fetch leaves the previously delivered timetable in place.
type Refresher struct {
	getter  ics.Getter
	sink    Sink
	timeout time.Duration

	runMu sync.Mutex

	mu         sync.RWMutex
	identifier string
	status     Status

	cron *cron.Cron
}

// New constructs a Refresher. A zero timeout means 30 seconds.
func New(getter ics.Getter, sink Sink, identifier string, timeout time.Duration) *Refresher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Refresher{
		getter:     getter,
		sink:       sink,
		identifier: identifier,
		timeout:    timeout,
	}
}

// SetIdentifier changes the identifier used by subsequent refreshes.
func (r *Refresher) SetIdentifier(id string) {
	r.mu.Lock()
	r.identifier = id
	r.mu.Unlock()
}

func (r *Refresher) Identifier() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.identifier
}

func (r *Refresher) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Run performs one fetch and delivers the result to the sink. Errors wrap
// ics.ErrNotFound, ics.ErrEmptyTimetable or ErrNoIdentifier.
func (r *Refresher) Run(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	started := time.Now()
	tt, err := r.fetch(ctx, r.Identifier())
	r.record(started, tt, err)
	if err != nil {
		appLog.Error("timetable refresh failed", err, "elapsed", time.Since(started))
		return err
	}

	r.sink.SetTimetable(tt)
	appLog.Info("timetable refreshed", "events", tt.Len(), "elapsed", time.Since(started))
	return nil
}

// Switch fetches the timetable of id and, only if that succeeds, makes id
// the identifier for later runs and delivers the timetable. A failed switch
// leaves the identifier, the sink and Status as they were.
func (r *Refresher) Switch(ctx context.Context, id string) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	started := time.Now()
	tt, err := r.fetch(ctx, id)
	if err != nil {
		appLog.Warn("identifier switch rejected", "error", err, "elapsed", time.Since(started))
		return err
	}

	r.mu.Lock()
	r.identifier = id
	r.mu.Unlock()
	r.record(started, tt, nil)

	r.sink.SetTimetable(tt)
	appLog.Info("timetable identifier switched", "events", tt.Len(), "elapsed", time.Since(started))
	return nil
}

func (r *Refresher) fetch(ctx context.Context, id string) (*model.Timetable, error) {
	if id == "" {
		return nil, ErrNoIdentifier
	}
	fctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.getter.Fetch(fctx, id)
}

func (r *Refresher) record(started time.Time, tt *model.Timetable, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.LastAttempt = started
	r.status.LastError = err
	if err == nil {
		r.status.LastSuccess = time.Now()
		r.status.EventCount = tt.Len()
	}
}

// Start runs an immediate refresh in the background and schedules further
// runs on spec. It returns an error only for an invalid cron spec.
func (r *Refresher) Start(ctx context.Context, spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { _ = r.Run(ctx) }); err != nil {
		return err
	}
	r.cron = c
	c.Start()
	appLog.Info("refresh scheduler started", "spec", spec)

	go func() { _ = r.Run(ctx) }()
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

package refresh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ktutimetable/internal/ics"
	"ktutimetable/internal/model"
)

type recordingSink struct {
	mu  sync.Mutex
	got []*model.Timetable
}

func (s *recordingSink) SetTimetable(t *model.Timetable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, t)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func sample() *model.Timetable {
	return model.NewTimetable([]model.Event{{
		Date:      model.Date(2024, time.January, 29),
		StartTime: model.NewClock(9, 0, 0),
		EndTime:   model.NewClock(10, 30, 0),
		Summary:   "P123B123 Dummy module",
	}})
}

func TestRunDeliversTimetable(t *testing.T) {
	sink := &recordingSink{}
	tt := sample()
	r := New(ics.StaticGetter{Timetable: tt}, sink, "E1810", 0)

	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, 1, sink.count())
	assert.Same(t, tt, sink.got[0])

	st := r.Status()
	assert.NoError(t, st.LastError)
	assert.Equal(t, 1, st.EventCount)
	assert.False(t, st.LastSuccess.IsZero())
}

func TestRunFailureKeepsPreviousTimetable(t *testing.T) {
	sink := &recordingSink{}
	r := New(ics.StaticGetter{Err: ics.ErrNotFound}, sink, "bad", 0)

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, ics.ErrNotFound)
	assert.Equal(t, 0, sink.count())
	assert.ErrorIs(t, r.Status().LastError, ics.ErrNotFound)
	assert.True(t, r.Status().LastSuccess.IsZero())
}

func TestRunWithoutIdentifier(t *testing.T) {
	r := New(ics.StaticGetter{Timetable: sample()}, &recordingSink{}, "", 0)
	assert.ErrorIs(t, r.Run(context.Background()), ErrNoIdentifier)

	r.SetIdentifier("E1810")
	assert.NoError(t, r.Run(context.Background()))
	assert.Equal(t, "E1810", r.Identifier())
}

// byIDGetter serves one timetable per known identifier.
type byIDGetter map[string]*model.Timetable

func (g byIDGetter) Fetch(_ context.Context, id string) (*model.Timetable, error) {
	if tt, ok := g[id]; ok {
		return tt, nil
	}
	return nil, ics.ErrNotFound
}

func TestSwitchFailureKeepsState(t *testing.T) {
	sink := &recordingSink{}
	tt := sample()
	r := New(byIDGetter{"E1810": tt}, sink, "E1810", 0)
	require.NoError(t, r.Run(context.Background()))
	before := r.Status()

	err := r.Switch(context.Background(), "BAD")
	assert.ErrorIs(t, err, ics.ErrNotFound)
	assert.Equal(t, "E1810", r.Identifier())
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, before, r.Status())

	assert.ErrorIs(t, r.Switch(context.Background(), ""), ErrNoIdentifier)
	assert.Equal(t, before, r.Status())
}

func TestSwitchSucceeds(t *testing.T) {
	sink := &recordingSink{}
	other := sample()
	r := New(byIDGetter{"E1810": sample(), "E2000": other}, sink, "E1810", 0)

	require.NoError(t, r.Switch(context.Background(), "E2000"))
	assert.Equal(t, "E2000", r.Identifier())
	require.Equal(t, 1, sink.count())
	assert.Same(t, other, sink.got[0])
	assert.NoError(t, r.Status().LastError)
	assert.False(t, r.Status().LastSuccess.IsZero())
}

func TestStartRunsImmediately(t *testing.T) {
	sink := &recordingSink{}
	r := New(ics.StaticGetter{Timetable: sample()}, sink, "E1810", 0)

	require.NoError(t, r.Start(context.Background(), "@every 1h"))
	defer r.Stop()

	assert.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStartRejectsBadSpec(t *testing.T) {
	r := New(ics.StaticGetter{}, &recordingSink{}, "E1810", 0)
	assert.Error(t, r.Start(context.Background(), "not a cron spec"))
}

package ics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"ktutimetable/internal/model"
)

var (
	// ErrNotFound covers transport failures, non-success HTTP statuses and
	// bodies that do not contain a parseable calendar.
	ErrNotFound = errors.New("timetable not found")
	// ErrEmptyTimetable means the calendar parsed but held no usable events.
	ErrEmptyTimetable = errors.New("timetable is empty")
)

// DefaultURLTemplate is the KTU timetable export endpoint. "{id}" is
// replaced with the query-escaped identifier.
const DefaultURLTemplate = "https://uais.cr.ktu.lt/ktuis/tv_rprt2.ical1?p={id}&t=basic.ics"

// Getter fetches the timetable for an identifier. Implementations return
// errors wrapping ErrNotFound or ErrEmptyTimetable only.
type Getter interface {
	Fetch(ctx context.Context, identifier string) (*model.Timetable, error)
}

// StaticGetter returns a fixed timetable (or error) for every identifier.
type StaticGetter struct {
	Timetable *model.Timetable
	Err       error
}

func (g StaticGetter) Fetch(_ context.Context, _ string) (*model.Timetable, error) {
	if g.Err != nil {
		return nil, g.Err
	}
	if g.Timetable == nil {
		return nil, ErrEmptyTimetable
	}
	return g.Timetable, nil
}

// FileGetter reads an ICS document from disk. "{id}" in Path is replaced
// with the identifier, unescaped.
type FileGetter struct {
	Path  string
	Parse ParseOptions
}

func (g FileGetter) Fetch(_ context.Context, identifier string) (*model.Timetable, error) {
	path := strings.ReplaceAll(g.Path, "{id}", identifier)
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return Parse(body, g.Parse)
}

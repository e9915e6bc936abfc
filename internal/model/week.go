package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IsoWeek identifies a Monday-to-Sunday span by its ISO-8601 year and week
// number.
type IsoWeek struct {
	Year int
	Week int
}

// WeekOf returns the ISO week containing t.
func WeekOf(t time.Time) IsoWeek {
	y, w := t.ISOWeek()
	return IsoWeek{Year: y, Week: w}
}

// Monday returns the date (midnight UTC) of the week's Monday.
func (w IsoWeek) Monday() time.Time {
	// January 4th is always in week 1.
	jan4 := Date(w.Year, time.January, 4)
	week1 := jan4.AddDate(0, 0, -WeekdayIndex(jan4))
	return week1.AddDate(0, 0, 7*(w.Week-1))
}

// Day returns the date of the i-th day of the week (Monday=0).
func (w IsoWeek) Day(i int) time.Time {
	return w.Monday().AddDate(0, 0, i)
}

// AddWeeks moves n whole weeks (7-day steps) from the week's Monday.
func (w IsoWeek) AddWeeks(n int) IsoWeek {
	return WeekOf(w.Monday().AddDate(0, 0, 7*n))
}

// Compare orders weeks by (year, week): -1, 0 or +1.
func (w IsoWeek) Compare(o IsoWeek) int {
	switch {
	case w.Year < o.Year:
		return -1
	case w.Year > o.Year:
		return 1
	case w.Week < o.Week:
		return -1
	case w.Week > o.Week:
		return 1
	default:
		return 0
	}
}

func (w IsoWeek) Before(o IsoWeek) bool { return w.Compare(o) < 0 }
func (w IsoWeek) After(o IsoWeek) bool  { return w.Compare(o) > 0 }

func (w IsoWeek) String() string {
	return fmt.Sprintf("%04d-W%02d", w.Year, w.Week)
}

// ParseIsoWeek parses the String form, e.g. "2024-W05". Week 53 is accepted
// only in years that have one.
func ParseIsoWeek(s string) (IsoWeek, error) {
	year, week, ok := strings.Cut(s, "-W")
	if !ok {
		return IsoWeek{}, fmt.Errorf("iso week %q: want YYYY-Www", s)
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return IsoWeek{}, fmt.Errorf("iso week %q: %w", s, err)
	}
	n, err := strconv.Atoi(week)
	if err != nil {
		return IsoWeek{}, fmt.Errorf("iso week %q: %w", s, err)
	}
	w := IsoWeek{Year: y, Week: n}
	if n < 1 || n > 53 || WeekOf(w.Monday()) != w {
		return IsoWeek{}, fmt.Errorf("iso week %q does not exist", s)
	}
	return w, nil
}

package layout

import "ktutimetable/internal/model"

// DefaultBoundaries are the period boundaries of a teaching day: four
// classes separated by three breaks.
var DefaultBoundaries = []model.Clock{
	model.NewClock(9, 0, 0),
	model.NewClock(10, 30, 0),
	model.NewClock(11, 0, 0),
	model.NewClock(12, 30, 0),
	model.NewClock(13, 30, 0),
	model.NewClock(15, 0, 0),
	model.NewClock(15, 30, 0),
	model.NewClock(17, 0, 0),
}

// Axis maps minutes of day onto vertical body offsets. It spans from the
// first to the last boundary; values outside map outside [0, Height].
type Axis struct {
	Boundaries []int // minutes of day
	Height     float64
}

func NewAxis(boundaries []model.Clock, height float64) Axis {
	mins := make([]int, len(boundaries))
	for i, b := range boundaries {
		mins[i] = b.Minutes()
	}
	return Axis{Boundaries: mins, Height: height}
}

func (a Axis) First() int { return a.Boundaries[0] }
func (a Axis) Last() int  { return a.Boundaries[len(a.Boundaries)-1] }

// Scale is pixels per minute.
func (a Axis) Scale() float64 {
	total := a.Last() - a.First()
	if total <= 0 {
		return 0
	}
	return a.Height / float64(total)
}

// Y returns the offset of minute m from the top of the body.
func (a Axis) Y(m int) float64 {
	return float64(m-a.First()) * a.Scale()
}

// Contains reports whether m lies strictly inside the axis.
func (a Axis) Contains(m int) bool {
	return m > a.First() && m < a.Last()
}

// Breaks returns the [from, to] minute pairs between consecutive periods:
// boundaries [1..2], [3..4], ...
func (a Axis) Breaks() [][2]int {
	var out [][2]int
	for i := 1; i+1 < len(a.Boundaries); i += 2 {
		out = append(out, [2]int{a.Boundaries[i], a.Boundaries[i+1]})
	}
	return out
}

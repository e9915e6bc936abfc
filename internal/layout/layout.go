// Package layout computes the geometry of a Monday–Friday week grid. It is a
// pure function of (events, week, now, Params): no I/O and no error paths.
// Display adapters turn the returned records into draw calls.
package layout

import (
	"image/color"
	"math"
	"time"

	"ktutimetable/internal/model"
)

const (
	Days = 5

	DefaultHeaderHeight = 50.0
	DefaultTextSize     = 14.0

	columnGap       = 3.0
	cardShrinkX     = 10.0
	cardMargin      = 6.0
	cardBorder      = 4.0
	cardRounding    = 5.0
	cardMinChars    = 6.0
	cardTitleLines  = 2
	borderLighten   = 1.25
	darkenFactor    = 0.5
	markerThickness = 2.0
	markerBorder    = 2.0
)

var (
	// DefaultDayNames are the Lithuanian weekday abbreviations.
	DefaultDayNames = [Days]string{"Pir", "Ant", "Tre", "Ket", "Pen"}
	EnglishDayNames = [Days]string{"Mon", "Tue", "Wed", "Thu", "Fri"}

	cardTextColor = color.NRGBA{A: 0xff}
)

// Size is a width/height pair, used for the break texture.
type Size struct {
	W, H float64
}

// Params are the geometry inputs of a layout. Zero values select defaults.
type Params struct {
	Width, Height float64

	HeaderHeight float64
	// TextSize is the body font size hint; card and label sizes derive
	// from it.
	TextSize float64

	Theme    Theme
	DayNames [Days]string

	Boundaries []model.Clock

	// BreakTexture, if set, tiles break bands with a texture of this size.
	BreakTexture *Size
}

func (p Params) withDefaults() Params {
	if p.HeaderHeight <= 0 {
		p.HeaderHeight = DefaultHeaderHeight
	}
	if p.TextSize <= 0 {
		p.TextSize = DefaultTextSize
	}
	if p.Theme == (Theme{}) {
		p.Theme = DarkTheme
	}
	if p.DayNames == ([Days]string{}) {
		p.DayNames = DefaultDayNames
	}
	if len(p.Boundaries) < 2 {
		p.Boundaries = DefaultBoundaries
	}
	return p
}

// Rect is an axis-aligned rectangle in widget pixels.
type Rect struct {
	X, Y, W, H float64
}

func (r Rect) MaxX() float64 { return r.X + r.W }
func (r Rect) MaxY() float64 { return r.Y + r.H }

// Shrink2 moves each edge inwards by dx horizontally and dy vertically.
func (r Rect) Shrink2(dx, dy float64) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, W: r.W - 2*dx, H: r.H - 2*dy}
}

func (r Rect) Shrink(d float64) Rect { return r.Shrink2(d, d) }

// Align anchors a label at its point.
type Align int

const (
	AlignCenterCenter Align = iota
	AlignRightBottom
)

type Label struct {
	Text      string
	X, Y      float64
	Align     Align
	FontSize  float64
	Monospace bool
	Color     color.NRGBA
}

type Fill struct {
	Rect  Rect
	Color color.NRGBA
}

type Line struct {
	X1, Y1, X2, Y2 float64
	Thickness      float64
	Color          color.NRGBA
}

// Bounds is the rectangle covered by an axis-aligned line.
func (l Line) Bounds() Rect {
	half := l.Thickness / 2
	minX, maxX := math.Min(l.X1, l.X2), math.Max(l.X1, l.X2)
	minY, maxY := math.Min(l.Y1, l.Y2), math.Max(l.Y1, l.Y2)
	return Rect{X: minX - half, Y: minY - half, W: maxX - minX + l.Thickness, H: maxY - minY + l.Thickness}
}

// Tile is one texture stamp. UV is the fraction of the texture shown, so
// edge tiles are cropped rather than squashed.
type Tile struct {
	Rect Rect
	UV   Size
}

type BreakBand struct {
	Rect  Rect
	Color color.NRGBA
	// Tiles is empty when no texture is configured; draw a flat fill then.
	Tiles []Tile
}

// Marker is the current-time line, drawn as a thick outline under a thin
// highlighted line.
type Marker struct {
	Outline Line
	Line    Line
}

type Card struct {
	Event model.Event
	Day   int

	Rect        Rect
	Background  color.NRGBA
	Border      color.NRGBA
	BorderWidth float64
	Rounding    float64

	// TextRect is the inner area for the label lines.
	TextRect   Rect
	TitleLines []string
	TimeLabel  string
	FontSize   float64
	TextColor  color.NRGBA
}

// Layout is the full set of records for one frame, in paint order: header,
// body fill, day highlight, column separators, break bands, cards, marker.
type Layout struct {
	Week model.IsoWeek

	Header     Fill
	DayLabels  []Label
	DateLabels []Label

	Body         Fill
	Axis         Axis
	ColumnWidth  float64
	DayHighlight *Fill
	Separators   []Line
	BreakBands   []BreakBand
	Cards        []Card
	NowMarker    *Marker
}

// Compute lays out the events of week as seen at now. Events outside week
// or on a weekend are not placed. Events whose times fall outside the axis
// are placed unclipped; an end before start yields a negative height.
func Compute(events []model.Event, week model.IsoWeek, now time.Time, p Params) Layout {
	p = p.withDefaults()
	theme := p.Theme
	dark := theme.DarkBackground()

	header := Rect{W: p.Width, H: p.HeaderHeight}
	body := Rect{Y: p.HeaderHeight, W: p.Width, H: math.Max(0, p.Height-p.HeaderHeight)}
	colW := body.W / Days
	axis := NewAxis(p.Boundaries, body.H)

	out := Layout{
		Week:        week,
		Header:      Fill{Rect: header, Color: dark},
		Body:        Fill{Rect: body, Color: theme.Background},
		Axis:        axis,
		ColumnWidth: colW,
	}

	// Header: day names centred, dates right-aligned at the column end.
	date := week.Monday()
	for i := 0; i < Days; i++ {
		out.DayLabels = append(out.DayLabels, Label{
			Text:      p.DayNames[i],
			X:         header.X + colW*(float64(i)+0.5),
			Y:         header.Y + header.H/2.5,
			Align:     AlignCenterCenter,
			FontSize:  p.TextSize * 1.2,
			Monospace: true,
			Color:     theme.Foreground,
		})
		out.DateLabels = append(out.DateLabels, Label{
			Text:     date.Format("01-02"),
			X:        header.X + colW*float64(i+1) - 3,
			Y:        header.MaxY() - 3,
			Align:    AlignRightBottom,
			FontSize: p.TextSize * 0.85,
			Color:    theme.Foreground,
		})
		date = date.AddDate(0, 0, 1)
	}

	if model.WeekOf(now) == week && !model.IsWeekend(now) {
		day := float64(model.WeekdayIndex(now))
		out.DayHighlight = &Fill{
			Rect:  Rect{X: body.X + colW*day, Y: body.Y, W: colW, H: body.H},
			Color: theme.Highlight,
		}
	}

	for i := 1; i < Days; i++ {
		x := body.X + colW*float64(i)
		out.Separators = append(out.Separators, Line{X1: x, Y1: body.Y, X2: x, Y2: body.MaxY(), Thickness: columnGap, Color: dark})
	}

	for _, br := range axis.Breaks() {
		from, to := axis.Y(br[0]), axis.Y(br[1])
		rect := Rect{X: body.X, Y: body.Y + from, W: body.W, H: to - from}
		band := BreakBand{Rect: rect, Color: dark}
		if p.BreakTexture != nil {
			band.Tiles = TileRect(rect, *p.BreakTexture)
		}
		out.BreakBands = append(out.BreakBands, band)
	}

	for _, e := range events {
		if e.Week() != week || model.IsWeekend(e.Date) {
			continue
		}
		out.Cards = append(out.Cards, placeCard(e, body, colW, axis, p.TextSize))
	}

	m := model.ClockOf(now).Minutes()
	if axis.Contains(m) && !model.IsWeekend(now) {
		y := body.Y + axis.Y(m)
		out.NowMarker = &Marker{
			Outline: Line{X1: body.X, Y1: y, X2: body.MaxX(), Y2: y, Thickness: markerThickness + 2*markerBorder, Color: dark},
			Line:    Line{X1: body.X, Y1: y, X2: body.MaxX(), Y2: y, Thickness: markerThickness, Color: theme.Highlight},
		}
	}

	return out
}

func placeCard(e model.Event, body Rect, colW float64, axis Axis, textSize float64) Card {
	day := model.WeekdayIndex(e.Date)
	duration := e.EndTime.Sub(e.StartTime).Minutes()

	rect := Rect{
		X: body.X + colW*float64(day),
		Y: body.Y + axis.Y(e.StartTime.Minutes()),
		W: colW,
		H: duration * axis.Scale(),
	}.Shrink2(cardShrinkX, 0)
	rect.W = math.Max(rect.W, textSize*cardMinChars)

	bg := CategoryColor(e.Category)
	fontSize := textSize * 0.8
	inner := rect.Shrink(cardMargin)

	return Card{
		Event:       e,
		Day:         day,
		Rect:        rect,
		Background:  bg,
		Border:      Lighten(bg, borderLighten),
		BorderWidth: cardBorder,
		Rounding:    cardRounding,
		TextRect:    inner,
		TitleLines:  WrapText(e.Title(), charsPerLine(inner.W, fontSize), cardTitleLines),
		TimeLabel:   e.StartTime.String() + "-" + e.EndTime.String(),
		FontSize:    fontSize,
		TextColor:   cardTextColor,
	}
}

// TileRect covers rect with copies of a texture of the given size. Tiles on
// the right and bottom edges are cropped via their UV fraction.
func TileRect(rect Rect, tex Size) []Tile {
	if tex.W <= 0 || tex.H <= 0 || rect.W <= 0 || rect.H <= 0 {
		return nil
	}
	hc := rect.W / tex.W
	vc := rect.H / tex.H
	fullX, fracX := math.Modf(hc)
	fullY, fracY := math.Modf(vc)

	var tiles []Tile
	add := func(ix, iy int, su, sv float64) {
		if su <= 0 || sv <= 0 {
			return
		}
		tiles = append(tiles, Tile{
			Rect: Rect{X: rect.X + tex.W*float64(ix), Y: rect.Y + tex.H*float64(iy), W: tex.W * su, H: tex.H * sv},
			UV:   Size{W: su, H: sv},
		})
	}

	nx, ny := int(fullX), int(fullY)
	for ix := 0; ix < nx; ix++ {
		for iy := 0; iy < ny; iy++ {
			add(ix, iy, 1, 1)
		}
	}
	// right edge
	for iy := 0; iy < ny; iy++ {
		add(nx, iy, fracX, 1)
	}
	// bottom edge
	for ix := 0; ix < nx; ix++ {
		add(ix, ny, 1, fracY)
	}
	// corner
	add(nx, ny, fracX, fracY)

	return tiles
}

package layout

import (
	"image/color"
	"math"

	"ktutimetable/internal/model"
)

// Lighten multiplies each RGB channel by k, clamping to [0, 255]. Factors
// below 1 darken. Alpha is kept.
func Lighten(c color.NRGBA, k float64) color.NRGBA {
	scale := func(v uint8) uint8 {
		f := float64(v) * k
		switch {
		case f <= 0:
			return 0
		case f >= 255:
			return 255
		default:
			return uint8(math.Floor(f))
		}
	}
	return color.NRGBA{R: scale(c.R), G: scale(c.G), B: scale(c.B), A: c.A}
}

func rgb(r, g, b uint8) color.NRGBA {
	return color.NRGBA{R: r, G: g, B: b, A: 0xff}
}

// CategoryColor is the card background for a category.
func CategoryColor(c model.Category) color.NRGBA {
	switch c {
	case model.CategoryYellow:
		return rgb(251, 184, 41)
	case model.CategoryGreen:
		return rgb(152, 188, 55)
	case model.CategoryRed:
		return rgb(247, 83, 65)
	case model.CategoryBlue:
		return rgb(10, 174, 179)
	default:
		return rgb(160, 160, 160)
	}
}

// Theme carries the colours injected by the display layer so the grid can
// follow a light or dark toolkit theme.
type Theme struct {
	Highlight  color.NRGBA
	Background color.NRGBA
	Foreground color.NRGBA
}

// DarkBackground is used for the header, column gaps, break bands and the
// now-marker outline.
func (t Theme) DarkBackground() color.NRGBA {
	return Lighten(t.Background, darkenFactor)
}

var (
	DarkTheme = Theme{
		Highlight:  rgb(0, 92, 128),
		Background: rgb(27, 27, 27),
		Foreground: rgb(255, 255, 255),
	}
	LightTheme = Theme{
		Highlight:  rgb(144, 209, 255),
		Background: rgb(248, 248, 248),
		Foreground: rgb(0, 0, 0),
	}
)

// ThemeByName returns LightTheme for "light" and DarkTheme otherwise.
func ThemeByName(name string) Theme {
	if name == "light" {
		return LightTheme
	}
	return DarkTheme
}

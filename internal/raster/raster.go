package raster

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"sync"

	"ktutimetable/internal/layout"
)

// Break texture geometry: diagonal stripes, stripeWidth pixels wide, on a
// textureSize square that tiles seamlessly.
const (
	textureSize = 16
	stripeWidth = 4
)

var (
	breakTexture     *image.Alpha
	breakTextureOnce sync.Once
)

// BreakTexture returns the process-wide break band texture. It is generated
// on first use and must not be modified.
func BreakTexture() *image.Alpha {
	breakTextureOnce.Do(func() {
		img := image.NewAlpha(image.Rect(0, 0, textureSize, textureSize))
		for y := 0; y < textureSize; y++ {
			for x := 0; x < textureSize; x++ {
				if (x+y)%(2*stripeWidth) < stripeWidth {
					img.SetAlpha(x, y, color.Alpha{A: 0xff})
				} else {
					img.SetAlpha(x, y, color.Alpha{A: 0x60})
				}
			}
		}
		breakTexture = img
	})
	return breakTexture
}

// TintedTexture returns a copy of the break texture coloured c, with the
// texture's coverage as alpha.
func TintedTexture(c color.NRGBA) *image.NRGBA {
	mask := BreakTexture()
	img := image.NewNRGBA(mask.Bounds())
	draw.DrawMask(img, img.Bounds(), image.NewUniform(c), image.Point{}, mask, mask.Bounds().Min, draw.Src)
	return img
}

// TextureSize is the size to pass as layout.Params.BreakTexture.
func TextureSize() *layout.Size {
	b := BreakTexture().Bounds()
	return &layout.Size{W: float64(b.Dx()), H: float64(b.Dy())}
}

// Render paints l into a new image of the given size. Shapes are drawn in
// layout paint order; text is not rasterized and rounded corners are
// drawn square.
func Render(l layout.Layout, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("raster: invalid size %dx%d", width, height)
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))

	fillRect(img, l.Header.Rect, l.Header.Color)
	fillRect(img, l.Body.Rect, l.Body.Color)

	if l.DayHighlight != nil {
		fillRect(img, l.DayHighlight.Rect, l.DayHighlight.Color)
	}

	for _, s := range l.Separators {
		drawLine(img, s)
	}

	tex := BreakTexture()
	for _, band := range l.BreakBands {
		if len(band.Tiles) == 0 {
			fillRect(img, band.Rect, band.Color)
			continue
		}
		src := image.NewUniform(band.Color)
		for _, tile := range band.Tiles {
			r := toImageRect(tile.Rect)
			draw.DrawMask(img, r, src, image.Point{}, tex, tex.Bounds().Min, draw.Over)
		}
	}

	for _, c := range l.Cards {
		fillRect(img, c.Rect, c.Background)
		strokeRect(img, c.Rect.Shrink(c.BorderWidth/2), c.BorderWidth, c.Border)
	}

	if m := l.NowMarker; m != nil {
		drawLine(img, m.Outline)
		drawLine(img, m.Line)
	}

	return img, nil
}

// EncodePNG renders l and writes it as PNG.
func EncodePNG(w io.Writer, l layout.Layout, width, height int) error {
	img, err := Render(l, width, height)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

func toImageRect(r layout.Rect) image.Rectangle {
	return image.Rect(
		int(math.Round(r.X)),
		int(math.Round(r.Y)),
		int(math.Round(r.MaxX())),
		int(math.Round(r.MaxY())),
	)
}

func fillRect(img *image.NRGBA, r layout.Rect, c color.NRGBA) {
	if r.W <= 0 || r.H <= 0 {
		return
	}
	draw.Draw(img, toImageRect(r).Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, draw.Over)
}

// strokeRect draws the outline of r centred on its edges.
func strokeRect(img *image.NRGBA, r layout.Rect, width float64, c color.NRGBA) {
	if r.W <= 0 || r.H <= 0 {
		return
	}
	half := width / 2
	fillRect(img, layout.Rect{X: r.X - half, Y: r.Y - half, W: r.W + width, H: width}, c)
	fillRect(img, layout.Rect{X: r.X - half, Y: r.MaxY() - half, W: r.W + width, H: width}, c)
	fillRect(img, layout.Rect{X: r.X - half, Y: r.Y - half, W: width, H: r.H + width}, c)
	fillRect(img, layout.Rect{X: r.MaxX() - half, Y: r.Y - half, W: width, H: r.H + width}, c)
}

func drawLine(img *image.NRGBA, l layout.Line) {
	fillRect(img, l.Bounds(), l.Color)
}

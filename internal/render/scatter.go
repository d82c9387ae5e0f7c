// Package render draws point sets and neighbour statistics as PNG images.
package render

import (
	"image"
	"image/color"
	"io"
	"math"
	"strconv"

	"github.com/fogleman/gg"

	"particle-nns/internal/nns"
)

// ScatterOptions controls Scatter.
type ScatterOptions struct {
	Width, Height int
	PointRadius   float64
	Grid          bool // draw cell boundaries
	Legend        bool
}

// DefaultScatterOptions returns an 800x800 view with grid lines.
func DefaultScatterOptions() ScatterOptions {
	return ScatterOptions{Width: 800, Height: 800, PointRadius: 3, Grid: true, Legend: true}
}

var (
	background = color.RGBA{12, 12, 28, 255}
	gridLine   = color.RGBA{40, 40, 60, 255}
	volumeLine = color.RGBA{120, 120, 150, 255}
	textColor  = color.RGBA{220, 220, 230, 255}
)

// Scatter projects points onto the x/y plane of the buffered volume and
// colours each by its neighbour count. counts may be nil.
func Scatter(points []nns.Vec3, counts []int, g nns.Geometry, opts ScatterOptions) image.Image {
	if opts.Width <= 0 || opts.Height <= 0 {
		d := DefaultScatterOptions()
		opts.Width, opts.Height = d.Width, d.Height
	}
	if opts.PointRadius <= 0 {
		opts.PointRadius = 3
	}

	dc := gg.NewContext(opts.Width, opts.Height)
	dc.SetColor(background)
	dc.Clear()

	// World x in [-ShiftX, ShiftX] maps to [0, W]; y is flipped.
	sx := float64(opts.Width) / g.BufferedX
	sy := float64(opts.Height) / g.BufferedY
	toPx := func(x, y float64) (float64, float64) {
		return (x + g.ShiftX) * sx, float64(opts.Height) - (y+g.ShiftY)*sy
	}

	if opts.Grid {
		dc.SetColor(gridLine)
		dc.SetLineWidth(1)
		for i := 0; i <= g.CellDimX; i++ {
			x := float64(i) * g.CellLength * sx
			dc.DrawLine(x, 0, x, float64(opts.Height))
			dc.Stroke()
		}
		for j := 0; j <= g.CellDimY; j++ {
			y := float64(opts.Height) - float64(j)*g.CellLength*sy
			dc.DrawLine(0, y, float64(opts.Width), y)
			dc.Stroke()
		}
	}

	// Unbuffered volume.
	x0, y0 := toPx(-g.ShiftX+g.Buffer, g.ShiftY-g.Buffer)
	x1, y1 := toPx(g.ShiftX-g.Buffer, -g.ShiftY+g.Buffer)
	dc.SetColor(volumeLine)
	dc.SetLineWidth(2)
	dc.DrawRectangle(x0, y0, x1-x0, y1-y0)
	dc.Stroke()

	maxCount := 0
	for _, c := range counts {
		maxCount = max(maxCount, c)
	}

	for i, p := range points {
		px, py := toPx(p.X, p.Y)
		if px < 0 || py < 0 || px > float64(opts.Width) || py > float64(opts.Height) {
			continue
		}
		c := 0
		if i < len(counts) {
			c = counts[i]
		}
		dc.SetColor(Ramp(c, maxCount))
		dc.DrawCircle(px, py, opts.PointRadius)
		dc.Fill()
	}

	if opts.Legend {
		dc.SetColor(textColor)
		dc.DrawString("neighbours: 0", 8, 16)
		dc.DrawStringAnchored(strconv.Itoa(maxCount), float64(opts.Width)-8, 16, 1, 0)
		for k := 0; k <= 10; k++ {
			dc.SetColor(Ramp(k, 10))
			dc.DrawRectangle(110+float64(k)*12, 6, 12, 12)
			dc.Fill()
		}
	}

	return dc.Image()
}

// WriteScatterPNG renders Scatter and encodes it as PNG.
func WriteScatterPNG(w io.Writer, points []nns.Vec3, counts []int, g nns.Geometry, opts ScatterOptions) error {
	img := Scatter(points, counts, g, opts)
	dc := gg.NewContextForImage(img)
	return dc.EncodePNG(w)
}

// Ramp maps count in [0, maxCount] onto a blue-to-red colour ramp.
func Ramp(count, maxCount int) color.RGBA {
	if maxCount <= 0 {
		return color.RGBA{70, 130, 255, 255}
	}
	t := math.Min(1, math.Max(0, float64(count)/float64(maxCount)))
	return color.RGBA{
		R: uint8(70 + t*(255-70)),
		G: uint8(130 + t*(80-130)),
		B: uint8(255 + t*(60-255)),
		A: 255,
	}
}

package render

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const (
	// MaxHistogramBins caps the number of bars; wider count ranges are grouped.
	MaxHistogramBins = 64

	DefaultHistogramWidth  = 6 * vg.Inch
	DefaultHistogramHeight = 4 * vg.Inch
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("render: no data")

// Bins groups neighbour counts into at most MaxHistogramBins bins of equal
// width. It returns the frequency per bin and the bin width.
func Bins(counts []int) (freq []float64, width int) {
	maxCount := 0
	for _, c := range counts {
		maxCount = max(maxCount, c)
	}
	n := maxCount + 1
	width = 1
	if n > MaxHistogramBins {
		width = (n + MaxHistogramBins - 1) / MaxHistogramBins
		n = (n + width - 1) / width
	}
	freq = make([]float64, n)
	for _, c := range counts {
		if c < 0 {
			continue
		}
		freq[c/width]++
	}
	return freq, width
}

// WriteHistogramPNG plots how many points have each neighbour count.
func WriteHistogramPNG(w io.Writer, counts []int, width, height vg.Length) error {
	if len(counts) == 0 {
		return ErrNoData
	}
	freq, binWidth := Bins(counts)

	p := plot.New()
	p.Title.Text = "Neighbour count distribution"
	p.X.Label.Text = "neighbours"
	p.Y.Label.Text = "points"

	barWidth := (width * 0.8) / vg.Length(len(freq)+1)
	bars, err := plotter.NewBarChart(plotter.Values(freq), barWidth)
	if err != nil {
		return fmt.Errorf("render: histogram: %w", err)
	}
	bars.Color = color.RGBA{70, 130, 255, 255}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)

	labels := make([]string, len(freq))
	step := max(1, len(freq)/16)
	for i := range labels {
		if i%step == 0 {
			labels[i] = strconv.Itoa(i * binWidth)
		}
	}
	p.NominalX(labels...)

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("render: histogram: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

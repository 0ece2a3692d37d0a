package chart

import (
	"image/color"
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
)

// BarOptions labels a bar chart.
type BarOptions struct {
	Title  string
	XLabel string
	YLabel string
	// Color fills the bars. Nil uses the first palette color.
	Color color.Color
}

// Bar draws one bar per label.
func Bar(labels []string, values []float64, opts BarOptions, s Style) (*plot.Plot, error) {
	if len(labels) != len(values) {
		return nil, eris.Errorf("chart: bar has %d labels and %d values", len(labels), len(values))
	}
	if len(values) == 0 {
		return nil, eris.New("chart: bar has no values")
	}

	fill := opts.Color
	if fill == nil {
		pal, err := Palette(s.Palette, 3)
		if err != nil {
			return nil, err
		}
		fill = pal.Colors()[0]
	}

	p := newPlot(opts.Title, s)
	p.X.Label.Text = opts.XLabel
	p.Y.Label.Text = opts.YLabel

	width := s.Width / vg.Length(2*len(values)+2)
	bars, err := plotter.NewBarChart(plotter.Values(values), width)
	if err != nil {
		return nil, eris.Wrap(err, "chart: bar")
	}
	bars.Color = fill
	bars.LineStyle.Width = 0
	p.Add(bars)

	p.NominalX(labels...)
	p.X.Tick.Label.Rotation = math.Pi / 4
	p.X.Tick.Label.XAlign = text.XRight
	p.X.Tick.Label.YAlign = text.YCenter
	p.Y.Min = 0
	return p, nil
}

package chart

import (
	"image/color"
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// ScatterOptions labels a scatter plot and selects its axes.
type ScatterOptions struct {
	Title  string
	XLabel string
	YLabel string
	LogX   bool
	LogY   bool
	// Fit adds a least-squares line.
	Fit bool
	// Center subtracts the mean from both variables.
	Center bool
}

// Panel is one tile of a regression grid.
type Panel struct {
	X, Y   []float64
	XLabel string
	YLabel string
}

// Scatter plots y against x. Pairs with a non-finite member are skipped, and
// so are non-positive values on a log axis.
func Scatter(x, y []float64, opts ScatterOptions, s Style) (*plot.Plot, error) {
	xs, ys, err := finitePairs(x, y, opts.LogX, opts.LogY)
	if err != nil {
		return nil, err
	}
	if opts.Center {
		xm, ym := stat.Mean(xs, nil), stat.Mean(ys, nil)
		floats.AddConst(-xm, xs)
		floats.AddConst(-ym, ys)
	}

	p := newPlot(opts.Title, s)
	p.X.Label.Text = opts.XLabel
	p.Y.Label.Text = opts.YLabel
	if opts.LogX {
		p.X.Scale = plot.LogScale{}
		p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	}
	if opts.LogY {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	}

	pal, err := Palette(s.Palette, 11)
	if err != nil {
		return nil, err
	}
	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i].X, pts[i].Y = xs[i], ys[i]
	}
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, eris.Wrap(err, "chart: scatter")
	}
	sc.GlyphStyle.Shape = draw.CircleGlyph{}
	sc.GlyphStyle.Radius = vg.Points(2)
	sc.GlyphStyle.Color = withAlpha(pal.Colors()[len(pal.Colors())-1], 0xb0)
	p.Add(sc)

	if opts.Fit && !opts.LogX && !opts.LogY {
		line, err := fitLine(xs, ys)
		if err != nil {
			return nil, err
		}
		line.Color = pal.Colors()[0]
		p.Add(line)
	}
	return p, nil
}

// RegressionGrid arranges one fitted scatter plot per panel in rows of cols.
func RegressionGrid(panels []Panel, cols int, s Style) ([][]*plot.Plot, error) {
	if cols < 1 {
		return nil, eris.Errorf("chart: grid needs at least one column, got %d", cols)
	}
	rows := (len(panels) + cols - 1) / cols
	grid := make([][]*plot.Plot, rows)
	for r := range grid {
		grid[r] = make([]*plot.Plot, cols)
	}

	tile := s
	tile.FontSize = s.FontSize * 0.8
	for i, pn := range panels {
		p, err := Scatter(pn.X, pn.Y, ScatterOptions{XLabel: pn.XLabel, YLabel: pn.YLabel, Fit: true}, tile)
		if err != nil {
			return nil, eris.Wrapf(err, "chart: panel %s/%s", pn.XLabel, pn.YLabel)
		}
		grid[i/cols][i%cols] = p
	}
	return grid, nil
}

func fitLine(xs, ys []float64) (*plotter.Line, error) {
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	lo, hi := floats.Min(xs), floats.Max(xs)
	line, err := plotter.NewLine(plotter.XYs{
		{X: lo, Y: alpha + beta*lo},
		{X: hi, Y: alpha + beta*hi},
	})
	if err != nil {
		return nil, eris.Wrap(err, "chart: regression line")
	}
	line.Width = vg.Points(1.5)
	return line, nil
}

func finitePairs(x, y []float64, logX, logY bool) ([]float64, []float64, error) {
	if len(x) != len(y) {
		return nil, nil, eris.Errorf("chart: %d x values and %d y values", len(x), len(y))
	}
	var xs, ys []float64
	for i := range x {
		if !finite(x[i]) || !finite(y[i]) {
			continue
		}
		if (logX && x[i] <= 0) || (logY && y[i] <= 0) {
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
	}
	if len(xs) < 2 {
		return nil, nil, eris.New("chart: fewer than 2 plottable points")
	}
	return xs, ys, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func withAlpha(c color.Color, a uint8) color.Color {
	r, g, b, _ := c.RGBA()
	return color.NRGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: a}
}

package chart

import (
	"image/color"
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Mark is a vertical reference line on a distribution plot.
type Mark struct {
	Value float64
	Label string
	Color color.Color
}

// HistOptions configures a distribution plot.
type HistOptions struct {
	Title  string
	XLabel string
	Bins   int
	// KDE overlays a Gaussian kernel density estimate.
	KDE bool
	// Rug draws a tick for every value along the x axis.
	Rug   bool
	Marks []Mark
}

// Histogram draws the density-normalised distribution of values.
func Histogram(values []float64, opts HistOptions, s Style) (*plot.Plot, error) {
	vs := make([]float64, 0, len(values))
	for _, v := range values {
		if finite(v) {
			vs = append(vs, v)
		}
	}
	if len(vs) < 2 {
		return nil, eris.New("chart: histogram needs at least 2 finite values")
	}
	bins := opts.Bins
	if bins <= 0 {
		bins = 30
	}

	pal, err := Palette(s.Palette, 11)
	if err != nil {
		return nil, err
	}
	fill := pal.Colors()[len(pal.Colors())-2]

	p := newPlot(opts.Title, s)
	p.X.Label.Text = opts.XLabel
	p.Y.Label.Text = "Density"

	h, err := plotter.NewHist(plotter.Values(vs), bins)
	if err != nil {
		return nil, eris.Wrap(err, "chart: histogram")
	}
	h.Normalize(1)
	h.FillColor = withAlpha(fill, 0x80)
	h.LineStyle.Width = 0
	p.Add(h)

	top := 0.0
	for _, b := range h.Bins {
		top = math.Max(top, b.Weight)
	}

	if opts.KDE {
		curve, peak, err := kde(vs)
		if err != nil {
			return nil, err
		}
		curve.Color = fill
		curve.Width = vg.Points(1.5)
		p.Add(curve)
		top = math.Max(top, peak)
	}

	for _, m := range opts.Marks {
		line, err := plotter.NewLine(plotter.XYs{{X: m.Value, Y: 0}, {X: m.Value, Y: top}})
		if err != nil {
			return nil, eris.Wrap(err, "chart: mark")
		}
		line.Color = m.Color
		if line.Color == nil {
			line.Color = s.TextColor
		}
		line.Width = vg.Points(1.5)
		p.Add(line)
		if m.Label != "" {
			p.Legend.Add(m.Label, line)
		}
	}

	if opts.Rug {
		p.Add(rug{values: vs, style: draw.LineStyle{Color: s.TextColor, Width: vg.Points(0.5)}, height: 3 * vg.Millimeter})
	}
	p.Legend.Top = true
	return p, nil
}

// kde samples a Gaussian kernel density estimate with Scott's bandwidth.
func kde(vs []float64) (*plotter.Line, float64, error) {
	n := float64(len(vs))
	sd := stat.StdDev(vs, nil)
	if sd == 0 {
		return nil, 0, eris.New("chart: kde of constant values")
	}
	bw := sd * math.Pow(n, -0.2)
	lo, hi := floats.Min(vs)-3*bw, floats.Max(vs)+3*bw

	const samples = 200
	pts := make(plotter.XYs, samples)
	peak := 0.0
	k := distuv.Normal{Mu: 0, Sigma: bw}
	for i := range pts {
		x := lo + (hi-lo)*float64(i)/(samples-1)
		var d float64
		for _, v := range vs {
			d += k.Prob(x - v)
		}
		d /= n
		pts[i].X, pts[i].Y = x, d
		peak = math.Max(peak, d)
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, 0, eris.Wrap(err, "chart: kde")
	}
	return line, peak, nil
}

type rug struct {
	values []float64
	style  draw.LineStyle
	height vg.Length
}

func (r rug) Plot(c draw.Canvas, p *plot.Plot) {
	trX, _ := p.Transforms(&c)
	for _, v := range r.values {
		x := trX(v)
		c.StrokeLine2(r.style, x, c.Min.Y, x, c.Min.Y+r.height)
	}
}

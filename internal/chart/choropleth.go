package chart

import (
	"fmt"
	"image/color"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/sells-group/dv-atlas/internal/classify"
)

// MissingColor fills areas without a value.
var MissingColor = color.RGBA{R: 0xd3, G: 0xd3, B: 0xd3, A: 0xff}

// Category is one class of a categorical map.
type Category struct {
	Label string
	Color color.Color
}

// LISAClusters are the cluster map categories in legend order.
var LISAClusters = []Category{
	{Label: "HH", Color: color.RGBA{R: 0xd7, G: 0x19, B: 0x1c, A: 0xff}},
	{Label: "LH", Color: color.RGBA{R: 0xab, G: 0xd9, B: 0xe9, A: 0xff}},
	{Label: "LL", Color: color.RGBA{R: 0x2c, G: 0x7b, B: 0xb6, A: 0xff}},
	{Label: "HL", Color: color.RGBA{R: 0xfd, G: 0xae, B: 0x61, A: 0xff}},
	{Label: "ns", Color: MissingColor},
}

// MapOptions labels a map.
type MapOptions struct {
	Title   string
	Palette string
	Legend  bool
}

// Choropleth fills every geometry with the palette color of its class. The
// legend lists the class ranges.
func Choropleth(geoms []*geom.MultiPolygon, values []float64, breaks classify.Breaks, opts MapOptions, s Style) (*plot.Plot, error) {
	if len(geoms) != len(values) {
		return nil, eris.Errorf("chart: %d geometries and %d values", len(geoms), len(values))
	}
	if len(breaks) == 0 {
		return nil, eris.New("chart: choropleth without breaks")
	}
	name := opts.Palette
	if name == "" {
		name = s.Palette
	}
	pal, err := Palette(name, len(breaks))
	if err != nil {
		return nil, err
	}
	fills := spread(pal.Colors(), len(breaks))

	p := newPlot(opts.Title, s)
	missing := false
	for i, g := range geoms {
		c := color.Color(MissingColor)
		if k := breaks.Assign(values[i]); k >= 0 {
			c = fills[k]
		} else {
			missing = true
		}
		if err := addMultiPolygon(p, g, c); err != nil {
			return nil, err
		}
	}

	if opts.Legend {
		lo := minFinite(values)
		thumbs := plotter.PaletteThumbnailers(colors(fills))
		for k, hi := range breaks {
			p.Legend.Add(fmt.Sprintf("%.2f - %.2f", lo, hi), thumbs[k])
			lo = hi
		}
		if missing {
			p.Legend.Add("No data", plotter.PaletteThumbnailers(colors{MissingColor})[0])
		}
	}
	mapAxes(p)
	return p, nil
}

// ChoroplethCategorical fills every geometry with the color of its label.
// Labels missing from cats use MissingColor.
func ChoroplethCategorical(geoms []*geom.MultiPolygon, labels []string, cats []Category, opts MapOptions, s Style) (*plot.Plot, error) {
	if len(geoms) != len(labels) {
		return nil, eris.Errorf("chart: %d geometries and %d labels", len(geoms), len(labels))
	}
	lookup := make(map[string]color.Color, len(cats))
	for _, c := range cats {
		lookup[c.Label] = c.Color
	}

	p := newPlot(opts.Title, s)
	used := make(map[string]bool)
	for i, g := range geoms {
		c, ok := lookup[labels[i]]
		if !ok {
			c = MissingColor
		}
		used[labels[i]] = true
		if err := addMultiPolygon(p, g, c); err != nil {
			return nil, err
		}
	}

	if opts.Legend {
		for _, c := range cats {
			if used[c.Label] {
				p.Legend.Add(c.Label, plotter.PaletteThumbnailers(colors{c.Color})[0])
			}
		}
	}
	mapAxes(p)
	return p, nil
}

func addMultiPolygon(p *plot.Plot, g *geom.MultiPolygon, fill color.Color) error {
	if g == nil {
		return nil
	}
	for i := 0; i < g.NumPolygons(); i++ {
		poly := g.Polygon(i)
		rings := make([]plotter.XYer, 0, poly.NumLinearRings())
		for r := 0; r < poly.NumLinearRings(); r++ {
			ring := poly.LinearRing(r)
			xys := make(plotter.XYs, ring.NumCoords())
			for k := range xys {
				c := ring.Coord(k)
				xys[k].X, xys[k].Y = c.X(), c.Y()
			}
			rings = append(rings, xys)
		}
		pg, err := plotter.NewPolygon(rings...)
		if err != nil {
			return eris.Wrap(err, "chart: polygon")
		}
		pg.Color = fill
		pg.LineStyle.Color = color.White
		pg.LineStyle.Width = vg.Points(0.2)
		p.Add(pg)
	}
	return nil
}

func mapAxes(p *plot.Plot) {
	p.HideAxes()
	p.Legend.Top = true
	p.Legend.Left = true
}

// spread picks n colors evenly from pal.
func spread(pal []color.Color, n int) []color.Color {
	if n == len(pal) {
		return pal
	}
	out := make([]color.Color, n)
	for i := range out {
		k := 0
		if n > 1 {
			k = int(math.Round(float64(i) * float64(len(pal)-1) / float64(n-1)))
		}
		out[i] = pal[k]
	}
	return out
}

func minFinite(values []float64) float64 {
	vs := make([]float64, 0, len(values))
	for _, v := range values {
		if finite(v) {
			vs = append(vs, v)
		}
	}
	if len(vs) == 0 {
		return math.NaN()
	}
	return floats.Min(vs)
}

package chart

import (
	"fmt"
	"image/color"
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"

	"github.com/sells-group/dv-atlas/internal/corr"
)

// CorrOptions configures a correlation matrix figure.
type CorrOptions struct {
	Title        string
	ShowLabels   bool
	ShowColorbar bool
}

// Cell is one square of a correlation grid. X is the column position and Y
// the row position with row 0 at the bottom.
type Cell struct {
	Row, Col int
	X, Y     float64
	Value    float64
	Label    string
	Blank    bool
}

// CorrGrid is the layout of a correlation matrix figure. It implements
// plotter.GridXYZ.
type CorrGrid struct {
	XTicks []string
	YTicks []string
	Cells  []Cell
	n      int
}

// NewCorrGrid lays out m. Value labels are rounded to two decimals and only
// set on non-blank cells when labels is true.
func NewCorrGrid(m *corr.Matrix, labels bool) CorrGrid {
	n := m.Len()
	g := CorrGrid{
		XTicks: append([]string(nil), m.Cols...),
		YTicks: append([]string(nil), m.Rows...),
		Cells:  make([]Cell, 0, n*n),
		n:      n,
	}
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			cell := Cell{
				Row:   r,
				Col:   c,
				X:     float64(c),
				Y:     float64(r),
				Value: m.Values[r][c],
				Blank: m.Masked(r, c),
			}
			if labels && !cell.Blank {
				cell.Label = fmt.Sprintf("%.2f", cell.Value)
			}
			g.Cells = append(g.Cells, cell)
		}
	}
	return g
}

// Cell returns the cell at row r and column c.
func (g CorrGrid) Cell(r, c int) Cell { return g.Cells[r*g.n+c] }

func (g CorrGrid) Dims() (c, r int) { return g.n, g.n }
func (g CorrGrid) Z(c, r int) float64 { return g.Cell(r, c).Value }
func (g CorrGrid) X(c int) float64 { return float64(c) }
func (g CorrGrid) Y(r int) float64 { return float64(r) }

// CorrMatrix renders m as a heat map pinned to [-1, 1]. Blank cells are left
// unpainted.
func CorrMatrix(m *corr.Matrix, opts CorrOptions, s Style) (*plot.Plot, error) {
	if m == nil || m.Len() == 0 {
		return nil, eris.New("chart: empty correlation matrix")
	}
	pal, err := Palette(s.Palette, 11)
	if err != nil {
		return nil, err
	}
	grid := NewCorrGrid(m, opts.ShowLabels)

	p := newPlot(opts.Title, s)
	heat := plotter.NewHeatMap(grid, pal)
	heat.Min, heat.Max = -1, 1
	heat.NaN = nil
	p.Add(heat)

	if opts.ShowLabels {
		var (
			xys    plotter.XYs
			labels []string
			fills  []color.Color
		)
		for _, c := range grid.Cells {
			if c.Blank {
				continue
			}
			xys = append(xys, plotter.XY{X: c.X, Y: c.Y})
			labels = append(labels, c.Label)
			fills = append(fills, cellColor(pal.Colors(), c.Value))
		}
		if len(xys) > 0 {
			lb, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: labels})
			if err != nil {
				return nil, eris.Wrap(err, "chart: matrix labels")
			}
			for i := range lb.TextStyle {
				lb.TextStyle[i].XAlign = text.XCenter
				lb.TextStyle[i].YAlign = text.YCenter
				lb.TextStyle[i].Font.Size = s.FontSize * 0.8
				lb.TextStyle[i].Color = contrast(fills[i], s.TextColor)
			}
			p.Add(lb)
		}
	}

	p.NominalX(grid.XTicks...)
	p.NominalY(grid.YTicks...)
	p.X.Tick.Label.Rotation = math.Pi / 4
	p.X.Tick.Label.XAlign = text.XRight

	n := float64(m.Len())
	if opts.ShowColorbar {
		thumbs := plotter.PaletteThumbnailers(pal)
		steps := float64(len(thumbs) - 1)
		for i := len(thumbs) - 1; i >= 0; i-- {
			p.Legend.Add(fmt.Sprintf("%.1f", -1+2*float64(i)/steps), thumbs[i])
		}
		p.Legend.Top = true
		p.X.Max = n - 0.5 + 0.35*n
	}
	return p, nil
}

func cellColor(pal []color.Color, v float64) color.Color {
	ps := float64(len(pal)-1) / 2
	return pal[int((v+1)*ps+0.5)]
}

// contrast returns white on dark fills and base otherwise.
func contrast(fill color.Color, base color.Color) color.Color {
	r, g, b, _ := fill.RGBA()
	lum := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
	if lum < 0.45*0xffff {
		return color.White
	}
	return base
}

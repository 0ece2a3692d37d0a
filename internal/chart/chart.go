// Package chart renders the exploration figures, maps and correlation
// matrices with gonum/plot.
package chart

import (
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/brewer"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Style carries the rendering settings shared by every figure.
type Style struct {
	Palette   string
	TextColor color.RGBA
	Width     vg.Length
	Height    vg.Length
	FontSize  vg.Length
	Format    string
}

// DefaultStyle matches the configuration defaults.
func DefaultStyle() Style {
	return Style{
		Palette:   "Spectral",
		TextColor: color.RGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xff},
		Width:     20 * vg.Centimeter,
		Height:    15 * vg.Centimeter,
		FontSize:  10,
		Format:    "png",
	}
}

// ParseColor parses a "#rrggbb" color.
func ParseColor(s string) (color.RGBA, error) {
	if len(s) != 7 || s[0] != '#' {
		return color.RGBA{}, eris.Errorf("chart: color %q is not #rrggbb", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.RGBA{}, eris.Wrapf(err, "chart: color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

type colors []color.Color

func (c colors) Colors() []color.Color { return c }

// Palette returns n colors of the named ColorBrewer palette. A "_r" suffix
// reverses it. When the palette has fewer than n colors the largest
// available variant is used.
func Palette(name string, n int) (palette.Palette, error) {
	base, reverse := strings.CutSuffix(name, "_r")
	if n < 3 {
		n = 3
	}
	var (
		p   palette.Palette
		err error
	)
	for k := n; k >= 3; k-- {
		p, err = brewer.GetPalette(brewer.TypeAny, base, k)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "chart: palette %q", name)
	}
	if !reverse {
		return p, nil
	}
	src := p.Colors()
	out := make(colors, len(src))
	for i, c := range src {
		out[len(src)-1-i] = c
	}
	return out, nil
}

// newPlot returns a plot with the text color and font sizes of s applied.
func newPlot(title string, s Style) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.Title.TextStyle.Color = s.TextColor
	p.Title.TextStyle.Font.Size = s.FontSize * 1.2
	for _, ax := range []*plot.Axis{&p.X, &p.Y} {
		ax.Label.TextStyle.Color = s.TextColor
		ax.Label.TextStyle.Font.Size = s.FontSize
		ax.Tick.Label.Color = s.TextColor
		ax.Tick.Label.Font.Size = s.FontSize * 0.8
		ax.Color = s.TextColor
		ax.Tick.Color = s.TextColor
	}
	p.Legend.TextStyle.Color = s.TextColor
	p.Legend.TextStyle.Font.Size = s.FontSize * 0.8
	return p
}

// FigurePath joins dir and name, adding the style's format as extension
// when name has none.
func FigurePath(dir, name string, s Style) string {
	if filepath.Ext(name) == "" {
		name += "." + s.Format
	}
	return filepath.Join(dir, name)
}

// Save writes p to path. The extension selects the format.
func Save(p *plot.Plot, path string, s Style) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "chart: create dir for %s", path)
	}
	if err := p.Save(s.Width, s.Height, path); err != nil {
		return eris.Wrapf(err, "chart: save %s", path)
	}
	return nil
}

// SaveGrid tiles plots row by row into one figure at path. Nil entries
// leave their tile empty.
func SaveGrid(plots [][]*plot.Plot, path string, s Style) error {
	if len(plots) == 0 || len(plots[0]) == 0 {
		return eris.New("chart: empty grid")
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	c, err := draw.NewFormattedCanvas(s.Width, s.Height, format)
	if err != nil {
		return eris.Wrapf(err, "chart: canvas for %s", path)
	}

	tiles := draw.Tiles{
		Rows:      len(plots),
		Cols:      len(plots[0]),
		PadX:      vg.Millimeter * 4,
		PadY:      vg.Millimeter * 4,
		PadTop:    vg.Millimeter * 2,
		PadBottom: vg.Millimeter * 2,
		PadLeft:   vg.Millimeter * 2,
		PadRight:  vg.Millimeter * 2,
	}
	canvases := plot.Align(plots, tiles, draw.New(c))
	for j := range plots {
		for i, p := range plots[j] {
			if p != nil {
				p.Draw(canvases[j][i])
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "chart: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "chart: create %s", path)
	}
	if _, err := c.WriteTo(f); err != nil {
		f.Close()
		return eris.Wrapf(err, "chart: write %s", path)
	}
	return eris.Wrapf(f.Close(), "chart: close %s", path)
}

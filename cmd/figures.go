package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/plot"

	"github.com/sells-group/dv-atlas/internal/census"
	"github.com/sells-group/dv-atlas/internal/chart"
	"github.com/sells-group/dv-atlas/internal/dataset"
	"github.com/sells-group/dv-atlas/internal/violence"
)

// figure is one output image. Names without an extension take the style
// format.
type figure struct {
	name string
	draw func(path string) error
}

// single wraps a one-plot figure.
func single(name string, s chart.Style, build func() (*plot.Plot, error)) figure {
	return figure{name: name, draw: func(path string) error {
		p, err := build()
		if err != nil {
			return err
		}
		return chart.Save(p, path, s)
	}}
}

// grid wraps a tiled figure.
func grid(name string, s chart.Style, build func() ([][]*plot.Plot, error)) figure {
	return figure{name: name, draw: func(path string) error {
		plots, err := build()
		if err != nil {
			return err
		}
		return chart.SaveGrid(plots, path, s)
	}}
}

// renderFigures draws figs into dir with at most analysis.concurrency in
// flight and returns the written paths in figure order.
func renderFigures(ctx context.Context, dir string, s chart.Style, figs []figure) ([]string, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, cfg.Analysis.Concurrency))

	paths := make([]string, len(figs))
	for i, f := range figs {
		paths[i] = chart.FigurePath(dir, f.name, s)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := f.draw(paths[i]); err != nil {
				return eris.Wrapf(err, "figure %s", f.name)
			}
			zap.L().Debug("figure written", zap.String("path", paths[i]))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// figureName numbers a figure the way every command names its images.
func figureName(n int, key, ext string) string {
	name := fmt.Sprintf("%02d_%s", n, key)
	if ext != "" {
		name += "." + ext
	}
	return name
}

// cityLabel names a feature by its reported city, falling back to the
// census name and then the code.
func cityLabel(f dataset.Feature) string {
	for _, col := range []string{violence.CityColumn, census.NameField} {
		if s, ok := f.Props[col].(string); ok && s != "" {
			return s
		}
	}
	return census.FormatCode(f.Code)
}

// topBar draws the n largest values of col by city.
func topBar(layer *dataset.Layer, col string, n int, opts chart.BarOptions, s chart.Style) (*plot.Plot, error) {
	top, err := layer.TopN(col, n)
	if err != nil {
		return nil, err
	}
	labels := make([]string, len(top))
	values := make([]float64, len(top))
	for i, f := range top {
		labels[i] = cityLabel(f)
		values[i], _ = f.Props[col].(float64)
	}
	return chart.Bar(labels, values, opts, s)
}

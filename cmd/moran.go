package main

import (
	"context"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gonum.org/v1/plot"

	"github.com/sells-group/dv-atlas/internal/chart"
	"github.com/sells-group/dv-atlas/internal/classify"
	"github.com/sells-group/dv-atlas/internal/dataset"
	"github.com/sells-group/dv-atlas/internal/report"
	"github.com/sells-group/dv-atlas/internal/spatial"
	"github.com/sells-group/dv-atlas/internal/store"
)

var moranCmd = &cobra.Command{
	Use:   "moran",
	Short: "Test global spatial autocorrelation",
	Long:  "Computes global Moran's I of the target under row-standardised Queen contiguity, draws the lag maps, the Moran scatter plot and the reference distribution (figures 10 to 12) and writes a YAML summary.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runMoran(ctx, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(moranCmd)
}

// moranParams is recorded with every moran run.
type moranParams struct {
	Dataset      string `json:"dataset"`
	Target       string `json:"target"`
	Weights      string `json:"weights"`
	Permutations int    `json:"permutations"`
	Seed         uint64 `json:"seed"`
}

func runMoran(ctx context.Context, out io.Writer) error {
	env, err := initAnalysis(ctx, "analysis", "render", "store")
	if err != nil {
		return err
	}
	defer env.Close()

	a := cfg.Analysis
	params := moranParams{
		Dataset:      cfg.Paths.Dataset,
		Target:       a.Target,
		Weights:      "queen",
		Permutations: a.Permutations,
		Seed:         a.Seed,
	}
	return withRun(ctx, env.Store, "moran", params, func(_ *store.Run) (any, error) {
		sample, y, err := targetSample(env.Layer, a.Target)
		if err != nil {
			return nil, err
		}

		w := spatial.Queen(sample.Geometries())
		if islands := w.Islands(); len(islands) > 0 {
			zap.L().Warn("municipalities without queen neighbours", zap.Int("islands", len(islands)))
		}
		w.RowStandardize()

		gm, err := spatial.Moran(y, w, a.Permutations, a.Seed)
		if err != nil {
			return nil, err
		}
		p := gm.PSim
		if math.IsNaN(p) {
			p = gm.PNorm
		}
		_, _ = fmt.Fprintf(out, "Moran's I: %.3f (p-value: %.3f)\n", gm.I, p)

		paths, err := renderFigures(ctx, cfg.Paths.ImagesDir, env.Style, moranFigures(sample, y, gm, a.Target, env.Style))
		if err != nil {
			return nil, eris.Wrap(err, "moran")
		}

		summary := report.MoranSummary{
			Variable:     a.Target,
			Weights:      params.Weights,
			Observations: gm.N,
			Permutations: gm.Permutations,
			Seed:         a.Seed,
			I:            gm.I,
			EI:           gm.EI,
			ZNorm:        gm.ZNorm,
			PNorm:        gm.PNorm,
			PSim:         gm.PSim,
			ZSim:         gm.ZSim,
			Figures:      paths,
			GeneratedAt:  time.Now().UTC(),
		}
		path := filepath.Join(cfg.Paths.ReportsDir, "moran_"+a.Target+".yaml")
		if err := report.Write(path, summary); err != nil {
			return nil, err
		}
		zap.L().Info("global moran complete",
			zap.String("command", "moran"),
			zap.Float64("i", gm.I),
			zap.Float64("p_sim", gm.PSim),
			zap.String("report", path),
		)
		return map[string]any{
			"i":          nullable(gm.I),
			"expected_i": nullable(gm.EI),
			"p_norm":     nullable(gm.PNorm),
			"p_sim":      nullable(gm.PSim),
			"report":     path,
			"figures":    paths,
		}, nil
	})
}

// nullable maps non-finite values to nil so run results stay valid JSON.
func nullable(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// targetSample keeps the features with a finite target value.
func targetSample(layer *dataset.Layer, target string) (*dataset.Layer, []float64, error) {
	sample, err := layer.Complete(target)
	if err != nil {
		return nil, nil, err
	}
	y, err := sample.Float(target)
	if err != nil {
		return nil, nil, err
	}
	if dropped := layer.Len() - sample.Len(); dropped > 0 {
		zap.L().Info("municipalities without a target value dropped",
			zap.String("target", target),
			zap.Int("dropped", dropped),
		)
	}
	return sample, y, nil
}

func moranFigures(sample *dataset.Layer, y []float64, gm *spatial.GlobalMoran, target string, s chart.Style) []figure {
	lagName := target + "Lag"
	figs := []figure{
		grid(figureName(10, "lagged_map", "png"), s, func() ([][]*plot.Plot, error) {
			row := make([]*plot.Plot, 2)
			for i, v := range [][]float64{y, gm.Lag} {
				breaks, err := classify.Quantiles(v, 5)
				if err != nil {
					return nil, err
				}
				name := target
				if i == 1 {
					name = lagName
				}
				row[i], err = chart.Choropleth(sample.Geometries(), v, breaks, chart.MapOptions{
					Title:   name,
					Palette: "Spectral_r",
					Legend:  true,
				}, s)
				if err != nil {
					return nil, err
				}
			}
			return [][]*plot.Plot{row}, nil
		}),
		single(figureName(11, "moran_autocorrelation", "svg"), s, func() (*plot.Plot, error) {
			return chart.Scatter(y, gm.Lag, chart.ScatterOptions{
				XLabel: target + "_std",
				YLabel: lagName + "_std",
				Fit:    true,
				Center: true,
			}, s)
		}),
	}
	if len(gm.Sim) > 1 {
		figs = append(figs, single(figureName(12, "moran_I", "svg"), s, func() (*plot.Plot, error) {
			return chart.Histogram(gm.Sim, chart.HistOptions{
				XLabel: "Moran's I",
				KDE:    true,
				Marks: []chart.Mark{
					{Value: gm.EI, Label: "E[I]", Color: color.Black},
					{Value: gm.I, Label: "I", Color: color.RGBA{R: 0xff, A: 0xff}},
				},
			}, s)
		}))
	}
	return figs
}

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
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gonum.org/v1/plot"

	"github.com/sells-group/dv-atlas/internal/chart"
	"github.com/sells-group/dv-atlas/internal/dataset"
	"github.com/sells-group/dv-atlas/internal/report"
	"github.com/sells-group/dv-atlas/internal/spatial"
	"github.com/sells-group/dv-atlas/internal/store"
)

var lisaCmd = &cobra.Command{
	Use:   "lisa",
	Short: "Find local clusters of domestic violence",
	Long:  "Computes local Moran's I of the target under row-standardised k-nearest-neighbour weights, prints the quadrant counts and the significant high-high municipalities, draws figures 13 to 15 and writes a YAML summary. Cluster labels are stored with the run when a store is configured.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runLISA(ctx, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(lisaCmd)
}

// lisaParams is recorded with every lisa run.
type lisaParams struct {
	Dataset      string  `json:"dataset"`
	Target       string  `json:"target"`
	Weights      string  `json:"weights"`
	K            int     `json:"k"`
	Distance     string  `json:"distance"`
	Permutations int     `json:"permutations"`
	Seed         uint64  `json:"seed"`
	Significance float64 `json:"significance"`
}

func runLISA(ctx context.Context, out io.Writer) error {
	env, err := initAnalysis(ctx, "analysis", "render", "store")
	if err != nil {
		return err
	}
	defer env.Close()

	a := cfg.Analysis
	params := lisaParams{
		Dataset:      cfg.Paths.Dataset,
		Target:       a.Target,
		Weights:      "knn",
		K:            a.KNNK,
		Distance:     a.Distance,
		Permutations: a.Permutations,
		Seed:         a.Seed,
		Significance: a.Significance,
	}
	return withRun(ctx, env.Store, "lisa", params, func(run *store.Run) (any, error) {
		sample, y, err := targetSample(env.Layer, a.Target)
		if err != nil {
			return nil, err
		}

		metric, err := spatial.MetricByName(a.Distance)
		if err != nil {
			return nil, err
		}
		centroids, err := spatial.Centroids(sample.Geometries())
		if err != nil {
			return nil, err
		}
		w, err := spatial.KNN(centroids, a.KNNK, metric)
		if err != nil {
			return nil, err
		}
		w.RowStandardize()

		lm, err := spatial.LocalMoranI(y, w, a.Permutations, a.Seed)
		if err != nil {
			return nil, err
		}

		counts := lm.Counts(a.Significance)
		hot := hotspots(sample, y, lm, a.Significance)
		formatQuadrants(out, counts)
		formatHotspots(out, hot, a.Target)

		figs := lisaFigures(sample, lm, hot, a.Significance, env.Style)
		paths, err := renderFigures(ctx, cfg.Paths.ImagesDir, env.Style, figs)
		if err != nil {
			return nil, eris.Wrap(err, "lisa")
		}

		if run != nil {
			n, err := env.Store.SaveClusters(ctx, run.ID, clusters(sample, lm, a.Significance))
			if err != nil {
				return nil, eris.Wrap(err, "lisa: save clusters")
			}
			zap.L().Debug("clusters stored", zap.Int64("rows", n))
		}

		summary := report.LISASummary{
			Variable:     a.Target,
			Weights:      fmt.Sprintf("knn(k=%d, %s)", a.KNNK, a.Distance),
			Observations: len(y),
			Permutations: lm.Permutations,
			Seed:         a.Seed,
			Significance: a.Significance,
			Quadrants:    counts,
			Hotspots:     hot,
			Figures:      paths,
			GeneratedAt:  time.Now().UTC(),
		}
		path := filepath.Join(cfg.Paths.ReportsDir, "lisa_"+a.Target+".yaml")
		if err := report.Write(path, summary); err != nil {
			return nil, err
		}
		zap.L().Info("local moran complete",
			zap.String("command", "lisa"),
			zap.Int("hotspots", len(hot)),
			zap.String("report", path),
		)
		return map[string]any{
			"quadrants": counts,
			"hotspots":  len(hot),
			"report":    path,
			"figures":   paths,
		}, nil
	})
}

// hotspots lists the significant high-high municipalities, highest value
// first.
func hotspots(sample *dataset.Layer, y []float64, lm *spatial.LocalMoran, sig float64) []report.City {
	idx := lm.Hotspots(sig)
	out := make([]report.City, len(idx))
	for k, i := range idx {
		f := sample.Features[i]
		out[k] = report.City{Code: f.Code, Name: cityLabel(f), Value: y[i], PSim: math.NaN()}
		if lm.PSim != nil {
			out[k].PSim = lm.PSim[i]
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out
}

func clusters(sample *dataset.Layer, lm *spatial.LocalMoran, sig float64) []store.Cluster {
	labels := lm.Quadrant(sig)
	out := make([]store.Cluster, len(labels))
	for i, f := range sample.Features {
		out[i] = store.Cluster{Code: f.Code, Label: labels[i], I: lm.Is[i], PSim: math.NaN()}
		if lm.PSim != nil {
			out[i].PSim = lm.PSim[i]
		}
	}
	return out
}

// formatQuadrants writes the label counts, most frequent first.
func formatQuadrants(out io.Writer, counts map[string]int) {
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		if counts[labels[i]] != counts[labels[j]] {
			return counts[labels[i]] > counts[labels[j]]
		}
		return labels[i] < labels[j]
	})

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "QUADRANT\tCOUNT")
	for _, l := range labels {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", l, counts[l])
	}
	_ = w.Flush()
}

// formatHotspots writes the high-high municipalities.
func formatHotspots(out io.Writer, hot []report.City, target string) {
	if len(hot) == 0 {
		_, _ = fmt.Fprintln(out, "No significant HH municipalities.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "CODE\tCITY\t%s\tP_SIM\n", target)
	for _, c := range hot {
		_, _ = fmt.Fprintf(w, "%05d\t%s\t%.3f\t%.3f\n", c.Code, c.Name, c.Value, c.PSim)
	}
	_ = w.Flush()
}

func lisaFigures(sample *dataset.Layer, lm *spatial.LocalMoran, hot []report.City, sig float64, s chart.Style) []figure {
	figs := []figure{
		single(figureName(13, "local_moran_I", "svg"), s, func() (*plot.Plot, error) {
			return chart.Histogram(lm.Is, chart.HistOptions{XLabel: "Moran's I", KDE: true, Rug: true}, s)
		}),
		grid(figureName(14, "correlation_quadrant", "png"), s, func() ([][]*plot.Plot, error) {
			row := make([]*plot.Plot, 2)
			for i, panel := range []struct {
				p     float64
				title string
			}{{1, "All correlation"}, {sig, "Significant correlations"}} {
				var err error
				row[i], err = chart.ChoroplethCategorical(sample.Geometries(), lm.Quadrant(panel.p), chart.LISAClusters, chart.MapOptions{
					Title:  panel.title,
					Legend: true,
				}, s)
				if err != nil {
					return nil, err
				}
			}
			return [][]*plot.Plot{row}, nil
		}),
	}
	if len(hot) > 0 {
		figs = append(figs, single(figureName(15, "dvc_per_1000_HH_cities", "svg"), s, func() (*plot.Plot, error) {
			labels := make([]string, len(hot))
			values := make([]float64, len(hot))
			for i, c := range hot {
				labels[i], values[i] = c.Name, c.Value
			}
			return chart.Bar(labels, values, chart.BarOptions{
				YLabel: title(cfg.Analysis.Target),
				Color:  color.RGBA{R: 0xff, A: 0xff},
			}, s)
		}))
	}
	return figs
}

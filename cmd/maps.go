package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gonum.org/v1/plot"

	"github.com/sells-group/dv-atlas/internal/census"
	"github.com/sells-group/dv-atlas/internal/chart"
	"github.com/sells-group/dv-atlas/internal/classify"
	"github.com/sells-group/dv-atlas/internal/dataset"
)

// choroplethSpec is one indicator map.
type choroplethSpec struct {
	column  string
	title   string
	palette string
	key     string
}

var indicatorMaps = []choroplethSpec{
	{column: census.RateColumn, title: "Domestic violence cases", palette: "YlOrRd", key: "dvc_jenks_map"},
	{column: census.PercentAdultinPrimary, title: "% Adults in primary", palette: "PuBu", key: "perc_adults_primary_jenks_map"},
	{column: census.WomenperMen, title: "Ratio women per men", palette: "Spectral_r", key: "ratio_women_per_men_map"},
}

var mapsCmd = &cobra.Command{
	Use:   "maps",
	Short: "Render the indicator choropleths",
	Long:  "Classifies the domestic violence rate, the share of adults with primary schooling and the women per men ratio and draws one choropleth each (figures 07 to 09).",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runMaps(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mapsCmd)
}

func runMaps(ctx context.Context) error {
	env, err := initAnalysis(ctx, "analysis", "render")
	if err != nil {
		return err
	}
	defer env.Close()

	figs := make([]figure, len(indicatorMaps))
	for i, m := range indicatorMaps {
		figs[i] = single(figureName(7+i, m.key, "png"), env.Style, func() (*plot.Plot, error) {
			return indicatorMap(env.Layer, m, env.Style)
		})
	}

	paths, err := renderFigures(ctx, cfg.Paths.ImagesDir, env.Style, figs)
	if err != nil {
		return eris.Wrap(err, "maps")
	}
	zap.L().Info("maps written", zap.String("command", "maps"), zap.Strings("figures", paths))
	return nil
}

func indicatorMap(layer *dataset.Layer, m choroplethSpec, s chart.Style) (*plot.Plot, error) {
	values, err := layer.Float(m.column)
	if err != nil {
		return nil, err
	}
	breaks, err := classBreaks(values)
	if err != nil {
		return nil, eris.Wrapf(err, "classify %s", m.column)
	}
	return chart.Choropleth(layer.Geometries(), values, breaks, chart.MapOptions{
		Title:   m.title,
		Palette: m.palette,
		Legend:  true,
	}, s)
}

// classBreaks applies the configured classification scheme.
func classBreaks(values []float64) (classify.Breaks, error) {
	if cfg.Analysis.Scheme == "quantiles" {
		return classify.Quantiles(values, cfg.Analysis.Classes)
	}
	return classify.FisherJenks(values, cfg.Analysis.Classes)
}

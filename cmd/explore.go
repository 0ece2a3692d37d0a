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
	"github.com/sells-group/dv-atlas/internal/corr"
	"github.com/sells-group/dv-atlas/internal/dataset"
)

// variableTitles are axis labels for the indicator columns.
var variableTitles = map[string]string{
	census.PersonsField:          "Population",
	census.CasesColumn:           "Domestic violence cases",
	census.RateColumn:            "DV cases per 1000 inhabitants",
	census.PercentAdultinPrimary: "% Adult in primary",
	census.PercentLSL:            "% Houses in lowest SL",
	census.PercentHWES:           "% Houses without Electric S",
	census.PercentHWWS:           "% Houses without Water S",
	census.WomenperMen:           "Ratio of women per men",
}

func title(col string) string {
	if t, ok := variableTitles[col]; ok {
		return t
	}
	return col
}

var exploreCmd = &cobra.Command{
	Use:   "explore",
	Short: "Render the exploration figures",
	Long:  "Draws the top-10 bar charts, the population scatter, the regression grid of every indicator against the target and the correlation matrix (figures 01 to 06).",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyCorrFlags(cmd)
		return runExplore(ctx)
	},
}

func init() {
	addCorrFlags(exploreCmd)
	rootCmd.AddCommand(exploreCmd)
}

func runExplore(ctx context.Context) error {
	env, err := initAnalysis(ctx, "analysis", "render")
	if err != nil {
		return err
	}
	defer env.Close()

	layer, s := env.Layer, env.Style
	target := cfg.Analysis.Target

	var explanatory []string
	for _, v := range cfg.Analysis.Variables {
		if v != target {
			explanatory = append(explanatory, v)
		}
	}

	figs := []figure{
		single(figureName(1, "population", ""), s, func() (*plot.Plot, error) {
			return topBar(layer, census.PersonsField, 10, chart.BarOptions{YLabel: title(census.PersonsField)}, s)
		}),
		single(figureName(2, "domestic_violence_cases", ""), s, func() (*plot.Plot, error) {
			return topBar(layer, census.CasesColumn, 10, chart.BarOptions{YLabel: title(census.CasesColumn)}, s)
		}),
		single(figureName(3, "population_vs_dvc", ""), s, func() (*plot.Plot, error) {
			x, err := layer.Float(census.PersonsField)
			if err != nil {
				return nil, err
			}
			y, err := layer.Float(census.CasesColumn)
			if err != nil {
				return nil, err
			}
			return chart.Scatter(x, y, chart.ScatterOptions{
				XLabel: title(census.PersonsField),
				YLabel: title(census.CasesColumn),
				LogX:   true,
				LogY:   true,
			}, s)
		}),
		single(figureName(4, "dvc_per_1000", ""), s, func() (*plot.Plot, error) {
			return topBar(layer, census.RateColumn, 10, chart.BarOptions{YLabel: title(census.RateColumn)}, s)
		}),
		grid(figureName(5, "pairs_plot_dvc_per_1000", ""), s, func() ([][]*plot.Plot, error) {
			return regressionPanels(layer, explanatory, target, s)
		}),
		single(figureName(6, "corr_dvc_per_1000", ""), square(s), func() (*plot.Plot, error) {
			m, err := buildMatrix(layer)
			if err != nil {
				return nil, err
			}
			return chart.CorrMatrix(m, chart.CorrOptions{
				ShowLabels:   cfg.Plot.ShowLabels,
				ShowColorbar: cfg.Plot.ShowColorbar,
			}, square(s))
		}),
	}

	paths, err := renderFigures(ctx, cfg.Paths.ImagesDir, s, figs)
	if err != nil {
		return eris.Wrap(err, "explore")
	}
	zap.L().Info("exploration figures written", zap.String("command", "explore"), zap.Strings("figures", paths))
	return nil
}

func regressionPanels(layer *dataset.Layer, explanatory []string, target string, s chart.Style) ([][]*plot.Plot, error) {
	y, err := layer.Float(target)
	if err != nil {
		return nil, err
	}
	panels := make([]chart.Panel, 0, len(explanatory))
	for i, v := range explanatory {
		x, err := layer.Float(v)
		if err != nil {
			return nil, err
		}
		p := chart.Panel{X: x, Y: y, XLabel: title(v)}
		if i%3 == 0 {
			p.YLabel = title(target)
		}
		panels = append(panels, p)
	}
	return chart.RegressionGrid(panels, 3, s)
}

// buildMatrix correlates the configured variables over the municipalities
// where all of them are known.
func buildMatrix(layer *dataset.Layer) (*corr.Matrix, error) {
	vars := cfg.Analysis.Variables
	complete, err := layer.Complete(vars...)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("correlation sample",
		zap.Int("municipalities", complete.Len()),
		zap.Int("dropped", layer.Len()-complete.Len()),
	)
	return corr.Build(complete, corr.Options{
		Variables:            vars,
		Half:                 cfg.Plot.Half,
		HideInsignificant:    cfg.Plot.HideInsignificant,
		SignificantThreshold: cfg.Analysis.Significance,
	})
}

func square(s chart.Style) chart.Style {
	s.Height = s.Width
	return s
}

var (
	flagVariables         []string
	flagHalf              bool
	flagHideInsignificant bool
	flagThreshold         float64
)

func addCorrFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&flagVariables, "variables", nil, "variables of the correlation matrix, in display order (default analysis.variables)")
	cmd.Flags().BoolVar(&flagHalf, "half", false, "keep only one triangle of the matrix (default plot.half)")
	cmd.Flags().BoolVar(&flagHideInsignificant, "hide-insignificant", false, "blank cells whose p-value exceeds the threshold (default plot.hide_insignificant)")
	cmd.Flags().Float64Var(&flagThreshold, "threshold", corr.DefaultThreshold, "significance threshold (default analysis.significance)")
}

// applyCorrFlags lets explicitly set flags override the loaded config.
func applyCorrFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("variables") {
		cfg.Analysis.Variables = flagVariables
	}
	if f.Changed("half") {
		cfg.Plot.Half = flagHalf
	}
	if f.Changed("hide-insignificant") {
		cfg.Plot.HideInsignificant = flagHideInsignificant
	}
	if f.Changed("threshold") {
		cfg.Analysis.Significance = flagThreshold
	}
}

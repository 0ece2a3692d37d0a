package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dv-atlas/internal/chart"
	"github.com/sells-group/dv-atlas/internal/corr"
)

var (
	corrPValues bool
	corrRender  string
)

var corrCmd = &cobra.Command{
	Use:   "corr",
	Short: "Print the correlation matrix",
	Long:  "Correlates the configured variables over the municipalities where all of them are known and prints the matrix, top row first. Masked cells are left empty.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		applyCorrFlags(cmd)
		return runCorr(cmd.Context(), os.Stdout)
	},
}

func init() {
	addCorrFlags(corrCmd)
	corrCmd.Flags().BoolVar(&corrPValues, "pvalues", false, "print p-values instead of coefficients")
	corrCmd.Flags().StringVar(&corrRender, "render", "", "also render the matrix to this image path (.png or .svg)")
	rootCmd.AddCommand(corrCmd)
}

func runCorr(ctx context.Context, out io.Writer) error {
	env, err := initAnalysis(ctx, "analysis")
	if err != nil {
		return err
	}
	defer env.Close()

	m, err := buildMatrix(env.Layer)
	if err != nil {
		return eris.Wrap(err, "corr")
	}
	formatMatrix(out, m, corrPValues)

	if corrRender == "" {
		return nil
	}
	if err := cfg.Validate("render"); err != nil {
		return err
	}
	s := square(env.Style)
	p, err := chart.CorrMatrix(m, chart.CorrOptions{
		ShowLabels:   cfg.Plot.ShowLabels,
		ShowColorbar: cfg.Plot.ShowColorbar,
	}, s)
	if err != nil {
		return eris.Wrap(err, "corr: render")
	}
	if err := chart.Save(p, corrRender, s); err != nil {
		return err
	}
	zap.L().Info("correlation matrix rendered", zap.String("command", "corr"), zap.String("path", corrRender))
	return nil
}

// formatMatrix writes m as a table in display order: the first printed row
// is the top row of the rendered figure.
func formatMatrix(out io.Writer, m *corr.Matrix, pvalues bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprint(w, "\t")
	for _, c := range m.Cols {
		_, _ = fmt.Fprintf(w, "%s\t", c)
	}
	_, _ = fmt.Fprintln(w)

	for r := m.Len() - 1; r >= 0; r-- {
		_, _ = fmt.Fprintf(w, "%s\t", m.Rows[r])
		for c := range m.Cols {
			switch {
			case m.Masked(r, c):
				_, _ = fmt.Fprint(w, "\t")
			case pvalues:
				_, _ = fmt.Fprintf(w, "%.4f\t", m.PValues[r][c])
			default:
				_, _ = fmt.Fprintf(w, "%.2f\t", m.Values[r][c])
			}
		}
		_, _ = fmt.Fprintln(w)
	}
	_ = w.Flush()
}

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dv-atlas/internal/population"
	"github.com/sells-group/dv-atlas/internal/violence"
)

var populationCmd = &cobra.Command{
	Use:   "population",
	Short: "Aggregate census population per municipality",
	Long:  "Sums HA_TOT_PER by department and municipality over every census CSV in paths.population_dir, attaches names from the municipality code sheet and writes population.csv.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runPopulation(ctx)
	},
}

var violenceRatesCmd = &cobra.Command{
	Use:   "violence-rates",
	Short: "Compute domestic violence cases per 1000 habitants",
	Long:  "Joins the police report, summed per department and municipality, with population.csv and writes the case rates.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runViolenceRates(ctx)
	},
}

func init() {
	rootCmd.AddCommand(populationCmd)
	rootCmd.AddCommand(violenceRatesCmd)
}

func runPopulation(ctx context.Context) error {
	counts, err := population.Group(ctx, cfg.Paths.PopulationDir, cfg.Analysis.Concurrency)
	if err != nil {
		return eris.Wrap(err, "population: group census files")
	}
	codes, err := population.LoadCodes(cfg.Paths.MunicipalityCodes)
	if err != nil {
		return eris.Wrap(err, "population: load codes")
	}

	rows := population.Join(counts, codes)
	if err := population.WriteCSV(cfg.Paths.PopulationCSV, rows); err != nil {
		return err
	}

	zap.L().Info("population written",
		zap.String("command", "population"),
		zap.String("path", cfg.Paths.PopulationCSV),
		zap.Int("municipalities", len(counts)),
		zap.Int("rows", len(rows)),
	)
	return nil
}

func runViolenceRates(ctx context.Context) error {
	reports, err := violence.Load(ctx, cfg.Paths.ViolenceCSV)
	if err != nil {
		return eris.Wrap(err, "violence-rates: read report")
	}
	cases, err := violence.ByDepartmentMunicipality(reports)
	if err != nil {
		return eris.Wrap(err, "violence-rates: aggregate cases")
	}
	pop, err := population.ReadCSV(cfg.Paths.PopulationCSV)
	if err != nil {
		return eris.Wrap(err, "violence-rates: read population")
	}

	rates, err := population.Rates(cases, pop)
	if err != nil {
		return err
	}
	if err := population.WriteRatesCSV(cfg.Paths.ViolenceRatesCSV, rates); err != nil {
		return err
	}

	zap.L().Info("violence rates written",
		zap.String("command", "violence-rates"),
		zap.String("path", cfg.Paths.ViolenceRatesCSV),
		zap.Int("municipalities", rates.Nrow()),
	)
	return nil
}

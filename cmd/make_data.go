package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dv-atlas/internal/census"
	"github.com/sells-group/dv-atlas/internal/dataset"
	"github.com/sells-group/dv-atlas/internal/ingest"
	"github.com/sells-group/dv-atlas/internal/store"
	"github.com/sells-group/dv-atlas/internal/violence"
)

var makeDataMode string

var makeDataCmd = &cobra.Command{
	Use:   "make-data",
	Short: "Build the municipal indicator layer",
	Long:  "Reads the MGN census shapefile and the police domestic violence report, derives the municipal indicators and writes them as a GeoJSON layer. The layer is also loaded into the store when one is configured.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runMakeData(ctx)
	},
}

func init() {
	makeDataCmd.Flags().StringVar(&makeDataMode, "mode", string(violence.Count), "case aggregation: count (report rows) or sum (CANTIDAD)")
	rootCmd.AddCommand(makeDataCmd)
}

func runMakeData(ctx context.Context) error {
	if err := cfg.Validate("store"); err != nil {
		return err
	}
	log := zap.L().With(zap.String("command", "make-data"))

	shpPath, cleanup, err := ingest.FindShapefile(cfg.Paths.CensusShapefile, cfg.Paths.TempDir)
	if err != nil {
		return eris.Wrap(err, "make-data: locate census shapefile")
	}
	defer cleanup()

	bounds, err := census.ReadShapefile(shpPath, nil)
	if err != nil {
		return eris.Wrap(err, "make-data: read census")
	}
	if bounds.Skipped > 0 {
		log.Warn("census records without a usable shape", zap.Int("skipped", bounds.Skipped))
	}
	censusDF, err := bounds.Frame()
	if err != nil {
		return eris.Wrap(err, "make-data: census frame")
	}

	reports, err := violence.Load(ctx, cfg.Paths.ViolenceCSV)
	if err != nil {
		return eris.Wrap(err, "make-data: read violence report")
	}
	cases, err := violence.ByMunicipality(reports, violence.Mode(makeDataMode))
	if err != nil {
		return eris.Wrap(err, "make-data: aggregate cases")
	}
	if cfg.Dataset.CodeField != census.CodeField {
		cases = cases.Rename(cfg.Dataset.CodeField, census.CodeField)
	}

	// Municipalities without reports keep NaN cases.
	joined := censusDF.LeftJoin(cases, cfg.Dataset.CodeField)
	if joined.Err != nil {
		return eris.Wrap(joined.Err, "make-data: join census with cases")
	}
	joined, err = census.Indicators(joined)
	if err != nil {
		return eris.Wrap(err, "make-data: indicators")
	}

	geoms, err := bounds.Geometries(cfg.Dataset.CodeField)
	if err != nil {
		return eris.Wrap(err, "make-data: geometries")
	}
	layer, err := dataset.FromFrame(joined, geoms, cfg.Dataset.CodeField, cfg.Dataset.LayerName)
	if err != nil {
		return eris.Wrap(err, "make-data: build layer")
	}
	if err := layer.Write(cfg.Paths.Dataset); err != nil {
		return eris.Wrap(err, "make-data: write layer")
	}
	log.Info("dataset written",
		zap.String("path", cfg.Paths.Dataset),
		zap.Int("municipalities", layer.Len()),
		zap.Int("report_municipalities", cases.Nrow()),
	)

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return eris.Wrap(err, "make-data: open store")
	}
	if st == nil {
		return nil
	}
	defer st.Close() //nolint:errcheck

	params := map[string]any{
		"census":   cfg.Paths.CensusShapefile,
		"violence": cfg.Paths.ViolenceCSV,
		"mode":     makeDataMode,
	}
	return withRun(ctx, st, "make-data", params, func(_ *store.Run) (any, error) {
		n, err := st.SaveLayer(ctx, layer)
		if err != nil {
			return nil, eris.Wrap(err, "make-data: save layer")
		}
		log.Info("layer stored", zap.Int64("rows", n))
		return map[string]any{"municipalities": n}, nil
	})
}

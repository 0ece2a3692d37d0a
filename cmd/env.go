package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dv-atlas/internal/chart"
	"github.com/sells-group/dv-atlas/internal/dataset"
	"github.com/sells-group/dv-atlas/internal/store"
)

// analysisEnv holds what the figure and statistics commands share.
type analysisEnv struct {
	Store store.Store // nil when store.driver is none
	Style chart.Style
	Layer *dataset.Layer
}

// Close releases the store, if any.
func (e *analysisEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initAnalysis validates the config for the given modes, builds the plot
// style, opens the store and reads the indicator layer. Callers should
// defer env.Close().
func initAnalysis(ctx context.Context, modes ...string) (*analysisEnv, error) {
	for _, m := range modes {
		if err := cfg.Validate(m); err != nil {
			return nil, err
		}
	}

	style, err := cfg.Plot.Style()
	if err != nil {
		return nil, err
	}

	layer, err := dataset.Read(cfg.Paths.Dataset)
	if err != nil {
		return nil, eris.Wrap(err, "read dataset")
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	zap.L().Debug("analysis environment ready",
		zap.String("dataset", cfg.Paths.Dataset),
		zap.Int("municipalities", layer.Len()),
		zap.String("store", cfg.Store.Driver),
	)

	return &analysisEnv{Store: st, Style: style, Layer: layer}, nil
}

// withRun records fn as an analysis run when a store is configured. fn
// receives the run, which is nil without a store, and returns the result
// stored on completion.
func withRun(ctx context.Context, st store.Store, command string, params any, fn func(run *store.Run) (any, error)) error {
	if st == nil {
		_, err := fn(nil)
		return err
	}

	run, err := st.CreateRun(ctx, command, params)
	if err != nil {
		return eris.Wrap(err, "create run")
	}
	log := zap.L().With(zap.String("command", command), zap.String("run_id", run.ID))
	log.Info("run started")

	result, err := fn(run)
	if err != nil {
		if ferr := st.FailRun(ctx, run.ID, err); ferr != nil {
			log.Error("failed to record run failure", zap.Error(ferr))
		}
		return err
	}

	if err := st.CompleteRun(ctx, run.ID, result); err != nil {
		return eris.Wrap(err, "complete run")
	}
	log.Info("run complete")
	return nil
}

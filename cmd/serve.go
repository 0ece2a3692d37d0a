package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dv-atlas/internal/api"
	"github.com/sells-group/dv-atlas/internal/store"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve runs, summaries and figures over HTTP",
	Long:  "Starts a read-only HTTP API exposing recorded runs (/api/runs), YAML summaries (/api/reports) and rendered figures (/figures/).",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runServe(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides serve.addr)")
	rootCmd.AddCommand(serveCmd)
}

func newAPIServer(st store.Store) *api.Server {
	return api.NewServer(st, api.Options{
		ImagesDir:      cfg.Paths.ImagesDir,
		ReportsDir:     cfg.Paths.ReportsDir,
		AllowedOrigins: cfg.Serve.AllowedOrigins,
		RatePerSecond:  cfg.Serve.RatePerSecond,
		Burst:          cfg.Serve.Burst,
	})
}

func runServe(ctx context.Context) error {
	if serveAddr != "" {
		cfg.Serve.Addr = serveAddr
	}
	for _, mode := range []string{"serve", "store"} {
		if err := cfg.Validate(mode); err != nil {
			return err
		}
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return eris.Wrap(err, "serve: open store")
	}
	if st != nil {
		defer st.Close() //nolint:errcheck
	}

	srv := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           newAPIServer(st).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("api listening", zap.String("addr", srv.Addr), zap.Bool("store", st != nil))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "serve: listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	zap.L().Info("api shutting down")
	return eris.Wrap(srv.Shutdown(shutdownCtx), "serve: shutdown")
}

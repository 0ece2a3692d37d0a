package main

import (
	"context"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dv-atlas/internal/ingest"
)

var fetchSkipExisting bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the raw census and police sources",
	Long:  "Downloads the configured fetch.* URLs (HTTP or FTP) into the paths the pipeline reads. Zipped census population files are unpacked into paths.population_dir.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runFetch(ctx)
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchSkipExisting, "skip-existing", false, "keep files that are already on disk")
	rootCmd.AddCommand(fetchCmd)
}

// download is one source and where it lands.
type download struct {
	url  string
	dest string
	// unzip extracts the archive into its directory and removes it.
	unzip bool
}

func fetchPlan() ([]download, error) {
	var plan []download
	add := func(u, dest string) {
		if u != "" {
			plan = append(plan, download{url: u, dest: dest})
		}
	}
	add(cfg.Fetch.CensusURL, cfg.Paths.CensusShapefile)
	add(cfg.Fetch.ViolenceURL, cfg.Paths.ViolenceCSV)
	add(cfg.Fetch.CodesURL, cfg.Paths.MunicipalityCodes)

	for _, raw := range cfg.Fetch.PopulationURLs {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "fetch: population url %q", raw)
		}
		name := path.Base(u.Path)
		if name == "." || name == "/" {
			return nil, eris.Errorf("fetch: population url %q has no file name", raw)
		}
		plan = append(plan, download{
			url:   raw,
			dest:  filepath.Join(cfg.Paths.PopulationDir, name),
			unzip: strings.EqualFold(path.Ext(name), ".zip"),
		})
	}
	return plan, nil
}

func runFetch(ctx context.Context) error {
	if err := cfg.Validate("fetch"); err != nil {
		return err
	}
	plan, err := fetchPlan()
	if err != nil {
		return err
	}

	d := ingest.NewDownloader(ingest.DownloadOptions{
		UserAgent:     cfg.Fetch.UserAgent,
		Timeout:       cfg.Fetch.Timeout,
		MaxRetries:    cfg.Fetch.MaxRetries,
		RatePerSecond: cfg.Fetch.RatePerSecond,
	})
	log := zap.L().With(zap.String("command", "fetch"))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, cfg.Analysis.Concurrency))
	for _, item := range plan {
		if fetchSkipExisting && !item.unzip {
			if _, err := os.Stat(item.dest); err == nil {
				log.Info("source already present", zap.String("path", item.dest))
				continue
			}
		}
		g.Go(func() error {
			if _, err := d.ToFile(gctx, item.url, item.dest); err != nil {
				return eris.Wrap(err, "fetch")
			}
			if !item.unzip {
				return nil
			}
			files, err := ingest.ExtractZIP(item.dest, filepath.Dir(item.dest))
			if err != nil {
				return eris.Wrap(err, "fetch: unpack population archive")
			}
			log.Info("population archive unpacked", zap.String("archive", item.dest), zap.Int("files", len(files)))
			return eris.Wrap(os.Remove(item.dest), "fetch: remove population archive")
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("sources fetched", zap.Int("sources", len(plan)))
	return nil
}

package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gonum.org/v1/plot/vg"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "none", cfg.Store.Driver)
	assert.Equal(t, int32(4), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "MPIO_CDPMP", cfg.Dataset.CodeField)
	assert.Equal(t, "DVCper1000iH", cfg.Analysis.Target)
	assert.Contains(t, cfg.Analysis.Variables, "PercentageAdultinPrimary")
	assert.InDelta(t, 0.05, cfg.Analysis.Significance, 0.0001)
	assert.Equal(t, 999, cfg.Analysis.Permutations)
	assert.Equal(t, uint64(12345), cfg.Analysis.Seed)
	assert.Equal(t, 8, cfg.Analysis.KNNK)
	assert.Equal(t, "haversine", cfg.Analysis.Distance)
	assert.Equal(t, "fisher_jenks", cfg.Analysis.Scheme)
	assert.Equal(t, "Spectral", cfg.Plot.Palette)
	assert.True(t, cfg.Plot.ShowLabels)
	// figure 06 draws the significant lower triangle without a colorbar
	assert.True(t, cfg.Plot.Half)
	assert.True(t, cfg.Plot.HideInsignificant)
	assert.False(t, cfg.Plot.ShowColorbar)
	assert.Equal(t, "data/processed/dataset.geojson", cfg.Paths.Dataset)
	assert.Equal(t, 5*time.Minute, cfg.Fetch.Timeout)
	assert.Empty(t, cfg.Fetch.ViolenceURL)
	assert.Equal(t, ":8080", cfg.Serve.Addr)
	assert.Equal(t, []string{"*"}, cfg.Serve.AllowedOrigins)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: atlas.db
log:
  level: debug
  format: console
analysis:
  permutations: 99
  variables: [a, b]
plot:
  half: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "atlas.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 99, cfg.Analysis.Permutations)
	assert.Equal(t, []string{"a", "b"}, cfg.Analysis.Variables)
	assert.False(t, cfg.Plot.Half)
	// Defaults still apply for unset values
	assert.Equal(t, 8, cfg.Analysis.KNNK)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("DVATLAS_STORE_DRIVER", "postgres")
	t.Setenv("DVATLAS_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("DVATLAS_ANALYSIS_KNN_K", "5")
	t.Setenv("DVATLAS_PLOT_FORMAT", "svg")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Analysis.KNNK)
	assert.Equal(t, "svg", cfg.Plot.Format)
}

func TestLoadBadYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestPlotStyle(t *testing.T) {
	p := PlotConfig{
		Palette:   "Spectral",
		TextColor: "#102030",
		WidthCM:   10,
		HeightCM:  5,
		FontSize:  9,
		Format:    "svg",
	}
	s, err := p.Style()
	require.NoError(t, err)

	assert.Equal(t, "Spectral", s.Palette)
	assert.Equal(t, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff}, s.TextColor)
	assert.Equal(t, 10*vg.Centimeter, s.Width)
	assert.Equal(t, 5*vg.Centimeter, s.Height)
	assert.Equal(t, vg.Length(9), s.FontSize)
	assert.Equal(t, "svg", s.Format)

	p.TextColor = "gray"
	_, err = p.Style()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Analysis.Target = "DVCper1000iH"
	cfg.Analysis.Significance = 0.05
	cfg.Analysis.Permutations = 999
	cfg.Analysis.KNNK = 8
	cfg.Analysis.Distance = "haversine"
	cfg.Analysis.Classes = 5
	cfg.Analysis.Scheme = "fisher_jenks"
	cfg.Plot.WidthCM = 20
	cfg.Plot.HeightCM = 15
	cfg.Plot.Format = "png"
	cfg.Plot.TextColor = "#404040"
	cfg.Store.Driver = "none"
	cfg.Fetch.Timeout = 5 * time.Minute
	cfg.Fetch.MaxRetries = 3
	cfg.Fetch.RatePerSecond = 2
	cfg.Serve.Addr = ":8080"
	cfg.Serve.AllowedOrigins = []string{"*"}
	cfg.Serve.RatePerSecond = 20
	cfg.Serve.Burst = 40
	return cfg
}

func TestValidateDefaults(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"analysis", "render", "store", "serve"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateAnalysis(t *testing.T) {
	cfg := validDefaults()
	cfg.Analysis.Significance = 1
	cfg.Analysis.KNNK = 0
	cfg.Analysis.Distance = "manhattan"

	err := cfg.Validate("analysis")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analysis.significance must be in (0, 1)")
	assert.Contains(t, err.Error(), "analysis.knn_k must be >= 1")
	assert.Contains(t, err.Error(), "manhattan")
}

func TestValidateRender(t *testing.T) {
	cfg := validDefaults()
	cfg.Plot.Format = "pdf"
	cfg.Plot.WidthCM = 0

	err := cfg.Validate("render")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plot.format")
	assert.Contains(t, err.Error(), "plot.width_cm")
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "atlas.db"
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Driver = "mysql"
	assert.Error(t, cfg.Validate("store"))
}

func TestValidateFetch(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("fetch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one source url")

	cfg.Fetch.ViolenceURL = "https://example.com/report.csv"
	assert.NoError(t, cfg.Validate("fetch"))

	cfg.Fetch.RatePerSecond = 0
	assert.ErrorContains(t, cfg.Validate("fetch"), "fetch.rate_per_second")
}

func TestValidateServe(t *testing.T) {
	cfg := validDefaults()
	cfg.Serve.Addr = ""
	cfg.Serve.Burst = 0
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serve.addr is required")
	assert.Contains(t, err.Error(), "serve.burst")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestLoadFileExplicitPath(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "atlas.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fetch:\n  timeout: 90s\n  population_urls:\n    - https://example.org/05.zip\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, []string{"https://example.org/05.zip"}, cfg.Fetch.PopulationURLs)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

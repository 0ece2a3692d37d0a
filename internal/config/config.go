package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gonum.org/v1/plot/vg"

	"github.com/sells-group/dv-atlas/internal/chart"
)

// Config holds the full application configuration.
type Config struct {
	Paths    PathsConfig    `yaml:"paths" mapstructure:"paths"`
	Dataset  DatasetConfig  `yaml:"dataset" mapstructure:"dataset"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Plot     PlotConfig     `yaml:"plot" mapstructure:"plot"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Fetch    FetchConfig    `yaml:"fetch" mapstructure:"fetch"`
	Serve    ServeConfig    `yaml:"serve" mapstructure:"serve"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// PathsConfig locates pipeline inputs and outputs.
type PathsConfig struct {
	CensusShapefile   string `yaml:"census_shapefile" mapstructure:"census_shapefile"`
	ViolenceCSV       string `yaml:"violence_csv" mapstructure:"violence_csv"`
	PopulationDir     string `yaml:"population_dir" mapstructure:"population_dir"`
	MunicipalityCodes string `yaml:"municipality_codes" mapstructure:"municipality_codes"`
	PopulationCSV     string `yaml:"population_csv" mapstructure:"population_csv"`
	ViolenceRatesCSV  string `yaml:"violence_rates_csv" mapstructure:"violence_rates_csv"`
	Dataset           string `yaml:"dataset" mapstructure:"dataset"`
	ImagesDir         string `yaml:"images_dir" mapstructure:"images_dir"`
	ReportsDir        string `yaml:"reports_dir" mapstructure:"reports_dir"`
	TempDir           string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// DatasetConfig names the indicator layer.
type DatasetConfig struct {
	LayerName string `yaml:"layer_name" mapstructure:"layer_name"`
	CodeField string `yaml:"code_field" mapstructure:"code_field"`
}

// AnalysisConfig configures correlation and spatial statistics.
type AnalysisConfig struct {
	Variables    []string `yaml:"variables" mapstructure:"variables"`
	Target       string   `yaml:"target" mapstructure:"target"`
	Significance float64  `yaml:"significance" mapstructure:"significance"`
	Permutations int      `yaml:"permutations" mapstructure:"permutations"`
	Seed         uint64   `yaml:"seed" mapstructure:"seed"`
	KNNK         int      `yaml:"knn_k" mapstructure:"knn_k"`
	Distance     string   `yaml:"distance" mapstructure:"distance"`
	Classes      int      `yaml:"classes" mapstructure:"classes"`
	Scheme       string   `yaml:"scheme" mapstructure:"scheme"`
	Concurrency  int      `yaml:"concurrency" mapstructure:"concurrency"`
}

// PlotConfig configures figure rendering.
type PlotConfig struct {
	Palette           string  `yaml:"palette" mapstructure:"palette"`
	TextColor         string  `yaml:"text_color" mapstructure:"text_color"`
	WidthCM           float64 `yaml:"width_cm" mapstructure:"width_cm"`
	HeightCM          float64 `yaml:"height_cm" mapstructure:"height_cm"`
	FontSize          float64 `yaml:"font_size" mapstructure:"font_size"`
	Format            string  `yaml:"format" mapstructure:"format"`
	ShowLabels        bool    `yaml:"show_labels" mapstructure:"show_labels"`
	ShowColorbar      bool    `yaml:"show_colorbar" mapstructure:"show_colorbar"`
	Half              bool    `yaml:"half" mapstructure:"half"`
	HideInsignificant bool    `yaml:"hide_insignificant" mapstructure:"hide_insignificant"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// FetchConfig lists the public source URLs downloaded by the fetch
// command. Empty URLs are skipped.
type FetchConfig struct {
	CensusURL      string        `yaml:"census_url" mapstructure:"census_url"`
	ViolenceURL    string        `yaml:"violence_url" mapstructure:"violence_url"`
	CodesURL       string        `yaml:"codes_url" mapstructure:"codes_url"`
	PopulationURLs []string      `yaml:"population_urls" mapstructure:"population_urls"`
	UserAgent      string        `yaml:"user_agent" mapstructure:"user_agent"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries     int           `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSecond  float64       `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// ServeConfig configures the read-only HTTP API.
type ServeConfig struct {
	Addr           string   `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RatePerSecond  float64  `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst          int      `yaml:"burst" mapstructure:"burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Style converts the plot section into a rendering style.
func (p PlotConfig) Style() (chart.Style, error) {
	text, err := chart.ParseColor(p.TextColor)
	if err != nil {
		return chart.Style{}, eris.Wrap(err, "config: plot.text_color")
	}
	return chart.Style{
		Palette:   p.Palette,
		TextColor: text,
		Width:     vg.Length(p.WidthCM) * vg.Centimeter,
		Height:    vg.Length(p.HeightCM) * vg.Centimeter,
		FontSize:  vg.Length(p.FontSize),
		Format:    p.Format,
	}, nil
}

// Load reads configuration from ./config.yaml, if present, and the
// environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and the environment. An empty
// path searches the working directory for an optional config.yaml; an
// explicit path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("DVATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("paths.census_shapefile", "data/raw/MGN_ANM_MPIOS.zip")
	v.SetDefault("paths.violence_csv", "data/raw/Violencia_Intrafamiliar_Colombia.csv")
	v.SetDefault("paths.population_dir", "data/raw/census")
	v.SetDefault("paths.municipality_codes", "data/raw/municipality_codes.xlsx")
	v.SetDefault("paths.population_csv", "data/processed/population.csv")
	v.SetDefault("paths.violence_rates_csv", "data/processed/violence_rates.csv")
	v.SetDefault("paths.dataset", "data/processed/dataset.geojson")
	v.SetDefault("paths.images_dir", "images")
	v.SetDefault("paths.reports_dir", "reports")
	v.SetDefault("paths.temp_dir", "/tmp/dv-atlas")
	v.SetDefault("dataset.layer_name", "municipalities")
	v.SetDefault("dataset.code_field", "MPIO_CDPMP")
	v.SetDefault("analysis.variables", []string{
		"PercentageAdultinPrimary",
		"PercentageLSL",
		"PercentageHWES",
		"PercentageHWWS",
		"WomenperMen",
		"DVCper1000iH",
	})
	v.SetDefault("analysis.target", "DVCper1000iH")
	v.SetDefault("analysis.significance", 0.05)
	v.SetDefault("analysis.permutations", 999)
	v.SetDefault("analysis.seed", 12345)
	v.SetDefault("analysis.knn_k", 8)
	v.SetDefault("analysis.distance", "haversine")
	v.SetDefault("analysis.classes", 5)
	v.SetDefault("analysis.scheme", "fisher_jenks")
	v.SetDefault("analysis.concurrency", 4)
	v.SetDefault("plot.palette", "Spectral")
	v.SetDefault("plot.text_color", "#404040")
	v.SetDefault("plot.width_cm", 20)
	v.SetDefault("plot.height_cm", 15)
	v.SetDefault("plot.font_size", 10)
	v.SetDefault("plot.format", "png")
	v.SetDefault("plot.show_labels", true)
	v.SetDefault("plot.show_colorbar", false)
	v.SetDefault("plot.half", true)
	v.SetDefault("plot.hide_insignificant", true)
	v.SetDefault("store.driver", "none")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("fetch.user_agent", "dv-atlas/1.0")
	v.SetDefault("fetch.timeout", "5m")
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_per_second", 2)
	v.SetDefault("serve.addr", ":8080")
	v.SetDefault("serve.allowed_origins", []string{"*"})
	v.SetDefault("serve.rate_per_second", 20)
	v.SetDefault("serve.burst", 40)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command depends on. Mode is one of
// "analysis", "render", "store", "fetch" or "serve".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "analysis":
		if c.Analysis.Target == "" {
			problems = append(problems, "analysis.target is required")
		}
		if !(c.Analysis.Significance > 0 && c.Analysis.Significance < 1) {
			problems = append(problems, "analysis.significance must be in (0, 1)")
		}
		if c.Analysis.Permutations < 0 {
			problems = append(problems, "analysis.permutations must be >= 0")
		}
		if c.Analysis.KNNK < 1 {
			problems = append(problems, "analysis.knn_k must be >= 1")
		}
		if c.Analysis.Distance != "haversine" && c.Analysis.Distance != "euclidean" {
			problems = append(problems, fmt.Sprintf("analysis.distance %q must be haversine or euclidean", c.Analysis.Distance))
		}
		if c.Analysis.Classes < 2 {
			problems = append(problems, "analysis.classes must be >= 2")
		}
		if c.Analysis.Scheme != "fisher_jenks" && c.Analysis.Scheme != "quantiles" {
			problems = append(problems, fmt.Sprintf("analysis.scheme %q must be fisher_jenks or quantiles", c.Analysis.Scheme))
		}
	case "render":
		if c.Plot.WidthCM <= 0 || c.Plot.HeightCM <= 0 {
			problems = append(problems, "plot.width_cm and plot.height_cm must be > 0")
		}
		if c.Plot.Format != "png" && c.Plot.Format != "svg" {
			problems = append(problems, fmt.Sprintf("plot.format %q must be png or svg", c.Plot.Format))
		}
		if _, err := chart.ParseColor(c.Plot.TextColor); err != nil {
			problems = append(problems, "plot.text_color must be a #rrggbb color")
		}
	case "store":
		switch c.Store.Driver {
		case "none":
		case "sqlite", "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required")
			}
		default:
			problems = append(problems, fmt.Sprintf("store.driver %q must be none, sqlite or postgres", c.Store.Driver))
		}
	case "fetch":
		f := c.Fetch
		if f.CensusURL == "" && f.ViolenceURL == "" && f.CodesURL == "" && len(f.PopulationURLs) == 0 {
			problems = append(problems, "fetch: at least one source url is required")
		}
		if f.MaxRetries < 1 {
			problems = append(problems, "fetch.max_retries must be >= 1")
		}
		if f.RatePerSecond <= 0 {
			problems = append(problems, "fetch.rate_per_second must be > 0")
		}
	case "serve":
		if c.Serve.Addr == "" {
			problems = append(problems, "serve.addr is required")
		}
		if c.Serve.RatePerSecond <= 0 || c.Serve.Burst < 1 {
			problems = append(problems, "serve.rate_per_second must be > 0 and serve.burst >= 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/geosight/geosight/internal/geo"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	POI     POIConfig     `yaml:"poi" mapstructure:"poi"`
	Grid    GridConfig    `yaml:"grid" mapstructure:"grid"`
	Scoring ScoringConfig `yaml:"scoring" mapstructure:"scoring"`
	Redis   RedisConfig   `yaml:"redis" mapstructure:"redis"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the job and layer database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// POIConfig configures the OSM reference database that holds one table per
// POI category.
type POIConfig struct {
	DatabaseURL       string `yaml:"database_url" mapstructure:"database_url"`
	Schema            string `yaml:"schema" mapstructure:"schema"`
	GeomColumn        string `yaml:"geom_column" mapstructure:"geom_column"`
	RetryAttempts     int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs    int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	RetryMaxBackoffMs int    `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
}

// GridConfig locates the static grid dataset.
type GridConfig struct {
	Path        string `yaml:"path" mapstructure:"path"`
	SourceCRS   string `yaml:"source_crs" mapstructure:"source_crs"`
	RegionField string `yaml:"region_field" mapstructure:"region_field"`
}

// ScoringConfig configures job execution.
type ScoringConfig struct {
	MaxConcurrentJobs int    `yaml:"max_concurrent_jobs" mapstructure:"max_concurrent_jobs"`
	BatchSize         int    `yaml:"batch_size" mapstructure:"batch_size"`
	CategoryWorkers   int    `yaml:"category_workers" mapstructure:"category_workers"`
	CleanupOnKill     bool   `yaml:"cleanup_on_kill" mapstructure:"cleanup_on_kill"`
	CategoriesFile    string `yaml:"categories_file" mapstructure:"categories_file"`
}

// RedisConfig configures layer update notifications. An empty addr logs
// events instead of publishing them.
type RedisConfig struct {
	Addr    string `yaml:"addr" mapstructure:"addr"`
	Channel string `yaml:"channel" mapstructure:"channel"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Keys without a real default are registered empty so the
	// environment can still set them.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("poi.database_url", "")
	v.SetDefault("poi.schema", "")
	v.SetDefault("poi.geom_column", "geom")
	v.SetDefault("poi.retry_attempts", 3)
	v.SetDefault("poi.retry_backoff_ms", 500)
	v.SetDefault("poi.retry_max_backoff_ms", 10000)
	v.SetDefault("grid.path", "")
	v.SetDefault("grid.source_crs", "EPSG:3857")
	v.SetDefault("grid.region_field", "city_name")
	v.SetDefault("scoring.max_concurrent_jobs", 3)
	v.SetDefault("scoring.batch_size", 5000)
	v.SetDefault("scoring.category_workers", 1)
	v.SetDefault("scoring.cleanup_on_kill", true)
	v.SetDefault("scoring.categories_file", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.channel", "geosight:layer_updates")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
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

// Validate checks the settings a command mode depends on. Modes: serve,
// score, migrate, reap, import, categories.
func (c *Config) Validate(mode string) error {
	var errs []string
	needStore := func() {
		if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
			errs = append(errs, "store.driver must be postgres or sqlite")
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}
	needGrid := func() {
		if c.Grid.Path == "" {
			errs = append(errs, "grid.path is required")
		}
		if _, err := geo.ParseSRID(c.Grid.SourceCRS); err != nil {
			errs = append(errs, "grid.source_crs must be EPSG:3857 or EPSG:4326")
		}
	}
	needScoring := func() {
		if c.Scoring.MaxConcurrentJobs < 1 || c.Scoring.MaxConcurrentJobs > 64 {
			errs = append(errs, "scoring.max_concurrent_jobs must be between 1 and 64")
		}
		if c.Scoring.BatchSize < 1 {
			errs = append(errs, "scoring.batch_size must be > 0")
		}
		if c.Scoring.CategoryWorkers < 1 {
			errs = append(errs, "scoring.category_workers must be > 0")
		}
	}

	switch mode {
	case "serve":
		needStore()
		needGrid()
		needScoring()
		if c.POI.DatabaseURL == "" {
			errs = append(errs, "poi.database_url is required")
		}
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	case "score":
		needGrid()
		needScoring()
	case "migrate", "reap":
		needStore()
	case "import":
		needStore()
		if c.Scoring.BatchSize < 1 {
			errs = append(errs, "scoring.batch_size must be > 0")
		}
	case "categories":
		if c.Scoring.CategoriesFile == "" {
			needStore()
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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

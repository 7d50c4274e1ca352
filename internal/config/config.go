package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	HubSpot    HubSpotConfig    `yaml:"hubspot" mapstructure:"hubspot"`
	MultiPress MultiPressConfig `yaml:"multipress" mapstructure:"multipress"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Sync       SyncConfig       `yaml:"sync" mapstructure:"sync"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// HubSpotConfig holds HubSpot API credentials and pacing.
type HubSpotConfig struct {
	APIKey         string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// MultiPressConfig holds MultiPress connector credentials.
type MultiPressConfig struct {
	BaseURL            string `yaml:"base_url" mapstructure:"base_url"`
	Username           string `yaml:"username" mapstructure:"username"`
	Password           string `yaml:"password" mapstructure:"password"`
	TimeoutSecs        int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
}

// ServerConfig configures the HTTP service. An empty APISecret leaves the
// sync endpoint open.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	APISecret   string   `yaml:"api_secret" mapstructure:"api_secret"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// SyncConfig configures the reconciliation engine.
type SyncConfig struct {
	Workers       int    `yaml:"workers" mapstructure:"workers"`
	PageSize      int    `yaml:"page_size" mapstructure:"page_size"`
	MappingFile   string `yaml:"mapping_file" mapstructure:"mapping_file"`
	ProgressEvery int    `yaml:"progress_every" mapstructure:"progress_every"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	// A .env next to the binary is convenient on the cron host.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEALSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets default to empty so their env bindings register.
	v.SetDefault("hubspot.api_key", "")
	v.SetDefault("hubspot.base_url", "https://api.hubapi.com")
	v.SetDefault("hubspot.requests_per_sec", 10.0)
	v.SetDefault("multipress.base_url", "https://e-commerce.scholma.nl/connector")
	v.SetDefault("multipress.username", "zwartekraai")
	v.SetDefault("multipress.password", "")
	v.SetDefault("multipress.timeout_secs", 30)
	v.SetDefault("multipress.insecure_skip_verify", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_secret", "")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("sync.workers", 20)
	v.SetDefault("sync.page_size", 100)
	v.SetDefault("sync.mapping_file", "")
	v.SetDefault("sync.progress_every", 25)
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

// Validate checks that the configuration can support the given mode.
// Mode "sync" needs both upstream credentials to run a reconciliation;
// "serve" only needs a listenable port, credentials are checked again on
// every sync request.
func (c *Config) Validate(mode string) error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	switch mode {
	case "sync":
		check(c.HubSpot.APIKey != "", "hubspot.api_key is required")
		check(c.MultiPress.BaseURL != "", "multipress.base_url is required")
		check(c.MultiPress.Password != "", "multipress.password is required")
		check(c.Sync.Workers >= 1 && c.Sync.Workers <= 100, "sync.workers must be between 1 and 100")
		check(c.Sync.PageSize >= 1 && c.Sync.PageSize <= 100, "sync.page_size must be between 1 and 100")
	case "serve":
		check(c.Server.Port > 0, "server.port must be > 0")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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

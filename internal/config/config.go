package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Provider   ProviderConfig   `yaml:"provider" mapstructure:"provider"`
	SessionAPI SessionAPIConfig `yaml:"session_api" mapstructure:"session_api"`
	Flow       FlowConfig       `yaml:"flow" mapstructure:"flow"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Analytics  AnalyticsConfig  `yaml:"analytics" mapstructure:"analytics"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the session database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// Provider modes.
const (
	ModeSimulated = "simulated"
	ModeLive      = "live"
)

// ProviderConfig configures the insurance provider adapter.
type ProviderConfig struct {
	Mode          string            `yaml:"mode" mapstructure:"mode"`
	BaseURL       string            `yaml:"base_url" mapstructure:"base_url"`
	APIKey        string            `yaml:"api_key" mapstructure:"api_key"`
	AffiliateCode string            `yaml:"affiliate_code" mapstructure:"affiliate_code"`
	RateLimitRPS  float64           `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	TimeoutSecs   int               `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	QuoteGrid     string            `yaml:"quote_grid" mapstructure:"quote_grid"`
	ErrorCodes    map[string]string `yaml:"error_codes" mapstructure:"error_codes"`
}

// SessionAPIConfig points at a remote session persistence API.
type SessionAPIConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// FlowConfig configures the step orchestrator.
type FlowConfig struct {
	CallTimeoutSecs         int `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	CircuitFailureThreshold int `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
	IdleEvictMins           int `yaml:"idle_evict_mins" mapstructure:"idle_evict_mins"`
	SweepIntervalSecs       int `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
}

// CallTimeout returns the per-call adapter timeout.
func (f FlowConfig) CallTimeout() time.Duration {
	return time.Duration(f.CallTimeoutSecs) * time.Second
}

// IdleEvict returns how long an unused session orchestrator is kept.
func (f FlowConfig) IdleEvict() time.Duration {
	return time.Duration(f.IdleEvictMins) * time.Minute
}

// SweepInterval returns how often idle orchestrators are swept.
func (f FlowConfig) SweepInterval() time.Duration {
	return time.Duration(f.SweepIntervalSecs) * time.Second
}

// RedisConfig configures the optional cross-process lead latch marker.
type RedisConfig struct {
	Addr         string `yaml:"addr" mapstructure:"addr"`
	Password     string `yaml:"password" mapstructure:"password"`
	DB           int    `yaml:"db" mapstructure:"db"`
	LatchTTLSecs int    `yaml:"latch_ttl_secs" mapstructure:"latch_ttl_secs"`
}

// AnalyticsConfig configures funnel event delivery.
type AnalyticsConfig struct {
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts int    `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int      `yaml:"port" mapstructure:"port"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min" mapstructure:"rate_limit_per_min"`
	CORSOrigins     []string `yaml:"cors_origins" mapstructure:"cors_origins"`
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
	v.SetEnvPrefix("ENROLL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "enroll.db")
	v.SetDefault("provider.mode", ModeSimulated)
	v.SetDefault("provider.timeout_secs", 60)
	v.SetDefault("provider.rate_limit_rps", 5)
	v.SetDefault("provider.affiliate_code", "direct")
	v.SetDefault("provider.error_codes", map[string]string{"DUPLICATE_LEAD": "resumable"})
	v.SetDefault("session_api.timeout_secs", 15)
	v.SetDefault("flow.call_timeout_secs", 60)
	v.SetDefault("flow.circuit_failure_threshold", 5)
	v.SetDefault("flow.circuit_reset_secs", 30)
	v.SetDefault("flow.idle_evict_mins", 30)
	v.SetDefault("flow.sweep_interval_secs", 60)
	v.SetDefault("redis.latch_ttl_secs", 120)
	v.SetDefault("analytics.timeout_secs", 5)
	v.SetDefault("analytics.max_attempts", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_per_min", 120)
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

// Validate checks the keys the given command needs. Modes: serve, simulate,
// sessions, migrate.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "simulate":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateProvider()...)
		if c.Flow.CallTimeoutSecs <= 0 {
			errs = append(errs, "flow.call_timeout_secs must be > 0")
		}
		if mode == "serve" && c.Flow.IdleEvictMins < 0 {
			errs = append(errs, "flow.idle_evict_mins must be >= 0")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if mode == "serve" && c.Server.RateLimitPerMin < 0 {
			errs = append(errs, "server.rate_limit_per_min must be >= 0")
		}
	case "sessions", "migrate":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}

func (c *Config) validateProvider() []string {
	var errs []string
	switch c.Provider.Mode {
	case ModeSimulated:
	case ModeLive:
		if c.Provider.BaseURL == "" {
			errs = append(errs, "provider.base_url is required")
		}
		if c.Provider.APIKey == "" {
			errs = append(errs, "provider.api_key is required")
		}
	default:
		errs = append(errs, "provider.mode must be simulated or live")
	}
	if c.Provider.AffiliateCode == "" {
		errs = append(errs, "provider.affiliate_code is required")
	}
	for code, class := range c.Provider.ErrorCodes {
		switch strings.ToLower(class) {
		case "resumable", "rejection":
		default:
			errs = append(errs, "provider.error_codes."+code+" must be resumable or rejection")
		}
	}
	return errs
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

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dscengine/observability/logging"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config captures runtime configuration for dscd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Deployment    string          `yaml:"deployment"`
	Environment   string          `yaml:"environment"`
	Journal       JournalConfig   `yaml:"journal"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimits    RateLimitConfig `yaml:"rate_limits"`
	CORS          CORSConfig      `yaml:"cors"`
	Logging       LoggingConfig   `yaml:"logging"`
	Stream        StreamConfig    `yaml:"stream"`
	Scan          ScanConfig      `yaml:"scan"`
}

// JournalConfig selects the event journal backend. Driver is "sqlite" or
// "postgres"; DSN is a file path for sqlite and a connection URL for postgres.
type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuthConfig controls bearer token validation.
type AuthConfig struct {
	Enabled    bool     `yaml:"enabled"`
	HMACSecret string   `yaml:"hmac_secret"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	ClockSkew  Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds request rates per client for reads and writes.
type RateLimitConfig struct {
	ReadPerMinute  float64 `yaml:"read_per_minute"`
	ReadBurst      int     `yaml:"read_burst"`
	WritePerMinute float64 `yaml:"write_per_minute"`
	WriteBurst     int     `yaml:"write_burst"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig routes service logs.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// StreamConfig tunes the websocket event stream.
type StreamConfig struct {
	OriginPatterns []string `yaml:"origin_patterns"`
	Buffer         int      `yaml:"buffer"`
}

// ScanConfig controls the periodic liquidation candidate scan.
type ScanConfig struct {
	Interval Duration `yaml:"interval"`
}

const (
	envListen       = "DSCD_LISTEN"
	envDeployment   = "DSCD_DEPLOYMENT"
	envEnvironment  = "DSCD_ENV"
	envJournalDrv   = "DSCD_JOURNAL_DRIVER"
	envJournalDSN   = "DSCD_JOURNAL_DSN"
	envAuthEnabled  = "DSCD_AUTH_ENABLED"
	envAuthSecret   = "DSCD_AUTH_SECRET"
	envAuthIssuer   = "DSCD_AUTH_ISSUER"
	envAuthAudience = "DSCD_AUTH_AUDIENCE"
	envLogLevel     = "DSCD_LOG_LEVEL"
	envLogFile      = "DSCD_LOG_FILE"

	defaultListen      = "127.0.0.1:7080"
	defaultDeployment  = "./config.toml"
	defaultJournalDrv  = "sqlite"
	defaultJournalDSN  = "./dsc-data/journal.sqlite"
	defaultScan        = 30 * time.Second
	defaultStreamBuf   = 64
	defaultReadPerMin  = 600
	defaultWritePerMin = 60
)

var (
	// ErrSecretRequired is returned when auth is enabled without a secret.
	ErrSecretRequired = errors.New("dscd config: auth hmac secret required when auth is enabled")
	// ErrUnknownDriver is returned for unsupported journal drivers.
	ErrUnknownDriver = errors.New("dscd config: unknown journal driver")
	// ErrUnauthenticatedListen is returned when auth is disabled on an
	// address reachable from other hosts.
	ErrUnauthenticatedListen = errors.New("dscd config: auth must be enabled unless listening on loopback")
)

// Default returns the configuration used when no file is supplied.
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// Load reads configuration from path, applies defaults and DSCD_* environment
// overrides, and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.ListenAddress = stringFromEnv(envListen, cfg.ListenAddress)
	cfg.Deployment = stringFromEnv(envDeployment, cfg.Deployment)
	cfg.Environment = stringFromEnv(envEnvironment, cfg.Environment)
	cfg.Journal.Driver = stringFromEnv(envJournalDrv, cfg.Journal.Driver)
	cfg.Journal.DSN = stringFromEnv(envJournalDSN, cfg.Journal.DSN)
	cfg.Auth.Enabled = boolFromEnv(envAuthEnabled, cfg.Auth.Enabled)
	cfg.Auth.HMACSecret = stringFromEnv(envAuthSecret, cfg.Auth.HMACSecret)
	cfg.Auth.Issuer = stringFromEnv(envAuthIssuer, cfg.Auth.Issuer)
	cfg.Auth.Audience = stringFromEnv(envAuthAudience, cfg.Auth.Audience)
	cfg.Logging.Level = stringFromEnv(envLogLevel, cfg.Logging.Level)
	cfg.Logging.File = stringFromEnv(envLogFile, cfg.Logging.File)
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	if cfg.Deployment == "" {
		cfg.Deployment = defaultDeployment
	}
	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = defaultJournalDrv
	}
	if cfg.Journal.DSN == "" && cfg.Journal.Driver == defaultJournalDrv {
		cfg.Journal.DSN = defaultJournalDSN
	}
	if cfg.Auth.ClockSkew.Duration <= 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimits.ReadPerMinute == 0 {
		cfg.RateLimits.ReadPerMinute = defaultReadPerMin
	}
	if cfg.RateLimits.ReadBurst == 0 {
		cfg.RateLimits.ReadBurst = 50
	}
	if cfg.RateLimits.WritePerMinute == 0 {
		cfg.RateLimits.WritePerMinute = defaultWritePerMin
	}
	if cfg.RateLimits.WriteBurst == 0 {
		cfg.RateLimits.WriteBurst = 10
	}
	if cfg.Stream.Buffer <= 0 {
		cfg.Stream.Buffer = defaultStreamBuf
	}
	if cfg.Scan.Interval.Duration == 0 {
		cfg.Scan.Interval.Duration = defaultScan
	}
}

// Validate ensures the configuration is internally consistent.
func (cfg Config) Validate() error {
	switch cfg.Journal.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w %q", ErrUnknownDriver, cfg.Journal.Driver)
	}
	if strings.TrimSpace(cfg.Journal.DSN) == "" {
		return fmt.Errorf("dscd config: journal dsn required")
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return ErrSecretRequired
	}
	if !cfg.Auth.Enabled && !isLoopback(cfg.ListenAddress) {
		return fmt.Errorf("%w: %q", ErrUnauthenticatedListen, cfg.ListenAddress)
	}
	if cfg.RateLimits.ReadPerMinute < 0 || cfg.RateLimits.WritePerMinute < 0 {
		return fmt.Errorf("dscd config: rate limits must be non-negative")
	}
	if cfg.Scan.Interval.Duration < 0 {
		return fmt.Errorf("dscd config: scan interval must be non-negative")
	}
	return nil
}

// Sanitized returns a copy of the Config with secrets masked for logging.
func (cfg Config) Sanitized() Config {
	clone := cfg
	clone.Auth.HMACSecret = logging.MaskValue(clone.Auth.HMACSecret)
	clone.Journal.DSN = logging.MaskDSN(clone.Journal.DSN)
	return clone
}

// isLoopback reports whether a listen address only accepts local
// connections. An empty host binds every interface.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func stringFromEnv(key, fallback string) string {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func boolFromEnv(key string, fallback bool) bool {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

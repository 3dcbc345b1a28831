package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/binary-mirror/internal/mirror"
	"github.com/eugenenazirov/binary-mirror/internal/patch"
)

// Supported mirror config sources.
const (
	SourceHTTP = "http"
	SourceFile = "file"
	SourceS3   = "s3"
)

const (
	defaultPort           = "8080"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
	defaultLogLevel       = "info"
)

// S3Config locates a mirror config document in an S3 bucket.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Key      string `yaml:"key"`
	Endpoint string `yaml:"endpoint"`
}

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	Registry       string
	Region         string
	Source         string
	File           string
	S3             S3Config
	RetryCount     int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	ValidateSchema bool
	Platform       string
	LogLevel       string
	Rules          map[string][]patch.FileEdit

	Port                 string
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	RateLimitRPS         float64
	RateLimitBurst       int
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	Registry             string                      `yaml:"registry"`
	Region               string                      `yaml:"region"`
	Source               string                      `yaml:"source"`
	File                 string                      `yaml:"file"`
	S3                   S3Config                    `yaml:"s3"`
	Retry                yamlRetry                   `yaml:"retry"`
	RequestTimeout       string                      `yaml:"request_timeout"`
	ValidateSchema       *bool                       `yaml:"validate_schema"`
	Platform             string                      `yaml:"platform"`
	LogLevel             string                      `yaml:"log_level"`
	Rules                map[string][]patch.FileEdit `yaml:"rules"`
	Port                 string                      `yaml:"port"`
	ShutdownGracePeriod  string                      `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string                      `yaml:"read_header_timeout"`
	WriteTimeout         string                      `yaml:"write_timeout"`
	IdleTimeout          string                      `yaml:"idle_timeout"`
	EnableRequestLogging *bool                       `yaml:"enable_request_logging"`
	RateLimit            yamlRateLimit               `yaml:"rate_limit"`
}

type yamlRetry struct {
	Count int    `yaml:"count"`
	Delay string `yaml:"delay"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile     string
	Registry       *string
	Region         *string
	Source         *string
	File           *string
	S3Bucket       *string
	S3Key          *string
	S3Endpoint     *string
	RetryCount     *int
	RetryDelay     *time.Duration
	Platform       *string
	LogLevel       *string
	Port           *string
	RateLimitRPS   *float64
	RateLimitBurst *int
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	// Environment first so YAML and flags can override it.
	applyEnvConfig(&cfg)

	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		applyYAMLConfig(&cfg, yamlCfg)
	}

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Registry:             mirror.DefaultRegistry,
		Region:               mirror.DefaultRegion,
		Source:               SourceHTTP,
		RetryCount:           mirror.DefaultRetryCount,
		RetryDelay:           mirror.DefaultRetryDelay,
		RequestTimeout:       60 * time.Second,
		ValidateSchema:       true,
		LogLevel:             defaultLogLevel,
		Port:                 defaultPort,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) {
	setString(&cfg.Registry, yamlCfg.Registry)
	setString(&cfg.Region, yamlCfg.Region)
	setString(&cfg.Source, yamlCfg.Source)
	setString(&cfg.File, yamlCfg.File)
	setString(&cfg.S3.Bucket, yamlCfg.S3.Bucket)
	setString(&cfg.S3.Key, yamlCfg.S3.Key)
	setString(&cfg.S3.Endpoint, yamlCfg.S3.Endpoint)
	setString(&cfg.Platform, yamlCfg.Platform)
	setString(&cfg.LogLevel, yamlCfg.LogLevel)
	setString(&cfg.Port, yamlCfg.Port)

	if yamlCfg.Retry.Count != 0 {
		cfg.RetryCount = yamlCfg.Retry.Count
	}
	setDuration(&cfg.RetryDelay, yamlCfg.Retry.Delay)
	setDuration(&cfg.RequestTimeout, yamlCfg.RequestTimeout)
	setDuration(&cfg.ShutdownGracePeriod, yamlCfg.ShutdownGracePeriod)
	setDuration(&cfg.ReadHeaderTimeout, yamlCfg.ReadHeaderTimeout)
	setDuration(&cfg.WriteTimeout, yamlCfg.WriteTimeout)
	setDuration(&cfg.IdleTimeout, yamlCfg.IdleTimeout)

	if yamlCfg.ValidateSchema != nil {
		cfg.ValidateSchema = *yamlCfg.ValidateSchema
	}
	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}
	if len(yamlCfg.Rules) > 0 {
		cfg.Rules = yamlCfg.Rules
	}

	if yamlCfg.RateLimit.RPS != nil {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}
	if yamlCfg.RateLimit.Burst != nil {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) {
	setString(&cfg.Registry, env("BINARY_MIRROR_REGISTRY"))
	setString(&cfg.Region, env("BINARY_MIRROR_REGION"))
	setString(&cfg.Source, env("BINARY_MIRROR_SOURCE"))
	setString(&cfg.File, env("BINARY_MIRROR_FILE"))
	setString(&cfg.S3.Bucket, env("BINARY_MIRROR_S3_BUCKET"))
	setString(&cfg.S3.Key, env("BINARY_MIRROR_S3_KEY"))
	setString(&cfg.S3.Endpoint, env("BINARY_MIRROR_S3_ENDPOINT"))
	setString(&cfg.LogLevel, env("BINARY_MIRROR_LOG_LEVEL"))
	setString(&cfg.Port, env("PORT"))

	if count := env("BINARY_MIRROR_RETRY_COUNT"); count != "" {
		if value, err := strconv.Atoi(count); err == nil && value >= 1 {
			cfg.RetryCount = value
		}
	}

	if delay := env("BINARY_MIRROR_RETRY_DELAY"); delay != "" {
		if value, err := ParseDelay(delay); err == nil {
			cfg.RetryDelay = value
		}
	}

	if rps := env("RATE_LIMIT_RPS"); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := env("RATE_LIMIT_BURST"); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	setStringPtr(&cfg.Registry, overrides.Registry)
	setStringPtr(&cfg.Region, overrides.Region)
	setStringPtr(&cfg.Source, overrides.Source)
	setStringPtr(&cfg.File, overrides.File)
	setStringPtr(&cfg.S3.Bucket, overrides.S3Bucket)
	setStringPtr(&cfg.S3.Key, overrides.S3Key)
	setStringPtr(&cfg.S3.Endpoint, overrides.S3Endpoint)
	setStringPtr(&cfg.Platform, overrides.Platform)
	setStringPtr(&cfg.LogLevel, overrides.LogLevel)
	setStringPtr(&cfg.Port, overrides.Port)

	if overrides.RetryCount != nil && *overrides.RetryCount != 0 {
		cfg.RetryCount = *overrides.RetryCount
	}
	if overrides.RetryDelay != nil && *overrides.RetryDelay >= 0 {
		cfg.RetryDelay = *overrides.RetryDelay
	}
	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}
	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if cfg.RetryCount < 1 {
		return fmt.Errorf("retry count must be >= 1, got %d", cfg.RetryCount)
	}
	if cfg.RetryDelay < 0 {
		return fmt.Errorf("retry delay must be >= 0, got %s", cfg.RetryDelay)
	}
	if cfg.Region == "" {
		return fmt.Errorf("region cannot be empty")
	}

	switch cfg.Source {
	case SourceHTTP:
		u, err := url.Parse(cfg.Registry)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("registry must be an http(s) URL, got %q", cfg.Registry)
		}
	case SourceFile:
		if cfg.File == "" {
			return fmt.Errorf("file source requires a file path")
		}
	case SourceS3:
		if cfg.S3.Bucket == "" || cfg.S3.Key == "" {
			return fmt.Errorf("s3 source requires bucket and key")
		}
	default:
		return fmt.Errorf("unknown source %q (expected %s, %s or %s)", cfg.Source, SourceHTTP, SourceFile, SourceS3)
	}

	for name, edits := range cfg.Rules {
		for _, edit := range edits {
			if edit.Path == "" {
				return fmt.Errorf("rule for %s has an empty path", name)
			}
		}
	}

	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	return nil
}

// ParseDelay accepts Go durations ("5s") and bare integers in milliseconds.
func ParseDelay(raw string) (time.Duration, error) {
	if ms, err := strconv.Atoi(raw); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("delay must be >= 0, got %d", ms)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("delay must be >= 0, got %s", d)
	}
	return d, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setStringPtr(dst *string, value *string) {
	if value != nil && *value != "" {
		*dst = *value
	}
}

func setDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := ParseDelay(raw); err == nil {
		*dst = d
	}
}

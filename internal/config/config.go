// Package config handles configuration for tb-dash.
//
// Values come from a YAML file (default ~/.tb-dash/config.yaml), then
// TB_DASH_* environment variables, then command-line flags, each layer
// overriding the one before.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TB_DASH_"

// Config holds all tb-dash configuration.
type Config struct {
	APIURL      string `yaml:"api_url"`
	Token       string `yaml:"token"`
	AnonKey     string `yaml:"anon_key"`
	SupabaseURL string `yaml:"supabase_url"`

	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	RateLimit    float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst    int           `yaml:"rate_burst"`

	AuditPath string `yaml:"audit_path"`

	RealtimeURL string `yaml:"realtime_url"`
	SigningKey  string `yaml:"signing_public_key"` // base64 Ed25519 public key
	RedisURL    string `yaml:"redis_url"`

	Listen         string   `yaml:"listen"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	SessionTokens  []string `yaml:"session_tokens"`
	FallbackEmpty  bool     `yaml:"fallback_empty"`

	Kubeconfig string `yaml:"kubeconfig"`

	Guard GuardConfig `yaml:"guard"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	TracingEndpoint   string  `yaml:"tracing_endpoint"` // OTLP/HTTP collector, host:port or URL
	TracingExporter   string  `yaml:"tracing_exporter"` // otlp, stdout, none; empty picks otlp when an endpoint is set
	TracingSampleRate float64 `yaml:"tracing_sample_rate"`
}

// GuardConfig bounds how often remediations may be initiated.
type GuardConfig struct {
	MaxPerHour int           `yaml:"max_per_hour"`
	Cooldown   time.Duration `yaml:"cooldown"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Timeout:      15 * time.Second,
		PollInterval: 30 * time.Second,
		RateBurst:    5,
		Listen:       ":8080",
		Guard: GuardConfig{
			MaxPerHour: 20,
			Cooldown:   5 * time.Minute,
		},
		LogLevel:          "info",
		LogFormat:         "text",
		TracingSampleRate: 1,
	}
}

// DefaultPath is ~/.tb-dash/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".tb-dash", "config.yaml")
	}
	return filepath.Join(home, ".tb-dash", "config.yaml")
}

// Load reads path (or DefaultPath when empty) and applies environment
// overrides. A missing default file is not an error; a missing explicit
// file is.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Defaults()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = splitList(v)
		}
	}

	str("API_URL", &cfg.APIURL)
	str("TOKEN", &cfg.Token)
	str("ANON_KEY", &cfg.AnonKey)
	str("SUPABASE_URL", &cfg.SupabaseURL)
	str("AUDIT_PATH", &cfg.AuditPath)
	str("REALTIME_URL", &cfg.RealtimeURL)
	str("SIGNING_KEY", &cfg.SigningKey)
	str("REDIS_URL", &cfg.RedisURL)
	str("LISTEN", &cfg.Listen)
	str("KUBECONFIG", &cfg.Kubeconfig)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("TRACING_ENDPOINT", &cfg.TracingEndpoint)
	str("TRACING_EXPORTER", &cfg.TracingExporter)
	list("ALLOWED_ORIGINS", &cfg.AllowedOrigins)
	list("SESSION_TOKENS", &cfg.SessionTokens)

	var errs []error
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}

	dur("TIMEOUT", &cfg.Timeout)
	dur("POLL_INTERVAL", &cfg.PollInterval)
	dur("GUARD_COOLDOWN", &cfg.Guard.Cooldown)
	num("RATE_BURST", &cfg.RateBurst)
	num("GUARD_MAX_PER_HOUR", &cfg.Guard.MaxPerHour)

	float := func(name string, dst *float64) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	float("RATE_LIMIT", &cfg.RateLimit)
	float("TRACING_SAMPLE_RATE", &cfg.TracingSampleRate)
	if v, ok := lookup(EnvPrefix + "FALLBACK_EMPTY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sFALLBACK_EMPTY: %w", EnvPrefix, err))
		} else {
			cfg.FallbackEmpty = b
		}
	}
	return errors.Join(errs...)
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required (--url or %sAPI_URL)", EnvPrefix)
	}
	if c.Token == "" {
		return fmt.Errorf("token is required (--token or %sTOKEN)", EnvPrefix)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.RateLimit < 0 {
		return errors.New("rate_limit must not be negative")
	}
	switch c.TracingExporter {
	case "", "otlp", "stdout", "none":
	default:
		return fmt.Errorf("unknown tracing_exporter %q", c.TracingExporter)
	}
	if c.TracingExporter == "otlp" && c.TracingEndpoint == "" {
		return errors.New("tracing_exporter otlp needs tracing_endpoint")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
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
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses human readable duration strings. TOML decoding goes
// through this method.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
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

// Config captures runtime configuration for swapd.
type Config struct {
	ListenAddress string            `yaml:"listen" toml:"listen"`
	Environment   string            `yaml:"environment" toml:"environment"`
	DatabasePath  string            `yaml:"database" toml:"database"`
	Journal       JournalConfig     `yaml:"journal" toml:"journal"`
	Idempotency   IdempotencyConfig `yaml:"idempotency" toml:"idempotency"`
	Identity      IdentityConfig    `yaml:"identity" toml:"identity"`
	Admin         AdminConfig       `yaml:"admin" toml:"admin"`
	RateLimit     RateLimitConfig   `yaml:"rate_limit" toml:"rate_limit"`
	Engine        EngineConfig      `yaml:"engine" toml:"engine"`
	Logging       LoggingConfig     `yaml:"logging" toml:"logging"`
}

// JournalConfig selects the relational store for the swap journal.
type JournalConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// IdempotencyConfig controls replay protection for swap submissions.
type IdempotencyConfig struct {
	Disabled bool     `yaml:"disabled" toml:"disabled"`
	Path     string   `yaml:"path" toml:"path"`
	TTL      Duration `yaml:"ttl" toml:"ttl"`
}

// IdentityConfig describes how caller JWTs are verified. The subject of a
// token is the caller's hex address.
type IdentityConfig struct {
	HMACSecret    string   `yaml:"hmac_secret" toml:"hmac_secret"`
	HMACSecretEnv string   `yaml:"hmac_secret_env" toml:"hmac_secret_env"`
	Issuer        string   `yaml:"issuer" toml:"issuer"`
	Audience      string   `yaml:"audience" toml:"audience"`
	Leeway        Duration `yaml:"leeway" toml:"leeway"`
}

// AdminConfig protects the operator endpoints.
type AdminConfig struct {
	BearerToken string         `yaml:"bearer_token" toml:"bearer_token"`
	TLS         AdminTLSConfig `yaml:"tls" toml:"tls"`
	MTLS        MTLSConfig     `yaml:"mtls" toml:"mtls"`
}

// AdminTLSConfig holds the listener certificate.
type AdminTLSConfig struct {
	Disable  bool   `yaml:"disable" toml:"disable"`
	CertPath string `yaml:"cert" toml:"cert"`
	KeyPath  string `yaml:"key" toml:"key"`
}

// MTLSConfig enables client-certificate authentication for operators.
type MTLSConfig struct {
	Enabled          bool     `yaml:"enabled" toml:"enabled"`
	ClientCAPath     string   `yaml:"client_ca" toml:"client_ca"`
	OperatorSubjects []string `yaml:"operator_subjects" toml:"operator_subjects"`
}

// RateLimitConfig bounds request throughput per caller.
type RateLimitConfig struct {
	Disabled          bool    `yaml:"disabled" toml:"disabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// EngineConfig tunes the swap engine.
type EngineConfig struct {
	DefaultExpiration Duration `yaml:"default_expiration" toml:"default_expiration"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

// TLSEnabled reports whether the listener should serve TLS.
func (a AdminConfig) TLSEnabled() bool {
	return !a.TLS.Disable && a.TLS.CertPath != "" && a.TLS.KeyPath != ""
}

// Enabled reports whether any operator authentication is configured.
func (a AdminConfig) Enabled() bool {
	return strings.TrimSpace(a.BearerToken) != "" || a.MTLS.Enabled
}

type loadOptions struct {
	allowInsecureBearer bool
}

// Option customises Load.
type Option func(*loadOptions)

// WithAllowInsecureBearerWithoutTLS permits an admin bearer token on a
// plaintext listener. Intended for local development only.
func WithAllowInsecureBearerWithoutTLS() Option {
	return func(o *loadOptions) {
		o.allowInsecureBearer = true
	}
}

// Load reads configuration from the supplied path. Files ending in .toml are
// decoded as TOML, everything else as YAML.
func Load(path string, opts ...Option) (Config, error) {
	options := loadOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	cfg := Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	} else {
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
	applyDefaults(&cfg)
	if err := cfg.Admin.normalise(options.allowInsecureBearer); err != nil {
		return cfg, err
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7074"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/var/data/swapd.sqlite"
	}
	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = "sqlite"
	}
	if cfg.Journal.DSN == "" && cfg.Journal.Driver == "sqlite" {
		cfg.Journal.DSN = "/var/data/swapd-journal.sqlite"
	}
	if cfg.Idempotency.Path == "" {
		cfg.Idempotency.Path = "/var/data/swapd-idempotency.db"
	}
	if cfg.Idempotency.TTL.Duration == 0 {
		cfg.Idempotency.TTL.Duration = 24 * time.Hour
	}
	if cfg.Identity.HMACSecret == "" && cfg.Identity.HMACSecretEnv != "" {
		cfg.Identity.HMACSecret = os.Getenv(cfg.Identity.HMACSecretEnv)
	}
	if cfg.Identity.Leeway.Duration == 0 {
		cfg.Identity.Leeway.Duration = 30 * time.Second
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 20
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 40
	}
	if cfg.Engine.DefaultExpiration.Duration == 0 {
		cfg.Engine.DefaultExpiration.Duration = 30 * time.Second
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 14
	}
}

func (a *AdminConfig) normalise(allowInsecureBearer bool) error {
	a.BearerToken = strings.TrimSpace(a.BearerToken)
	a.TLS.CertPath = strings.TrimSpace(a.TLS.CertPath)
	a.TLS.KeyPath = strings.TrimSpace(a.TLS.KeyPath)
	a.MTLS.ClientCAPath = strings.TrimSpace(a.MTLS.ClientCAPath)
	if !a.TLS.Disable && (a.TLS.CertPath == "") != (a.TLS.KeyPath == "") {
		return fmt.Errorf("admin tls.cert and tls.key must be configured together")
	}
	if a.MTLS.Enabled {
		if a.MTLS.ClientCAPath == "" {
			return fmt.Errorf("mtls.client_ca must be configured when mTLS is enabled")
		}
		if !a.TLSEnabled() {
			return fmt.Errorf("mtls requires admin TLS to be enabled")
		}
	}
	if a.BearerToken != "" && !a.TLSEnabled() && !allowInsecureBearer {
		return fmt.Errorf("admin bearer_token requires TLS to be enabled")
	}
	return nil
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Identity.HMACSecret) == "" {
		return fmt.Errorf("identity.hmac_secret must be configured")
	}
	if len(cfg.Identity.HMACSecret) < 32 {
		return fmt.Errorf("identity.hmac_secret must be at least 32 bytes")
	}
	switch cfg.Journal.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("journal.driver %q not supported", cfg.Journal.Driver)
	}
	if cfg.Journal.DSN == "" {
		return fmt.Errorf("journal.dsn must be configured for %s", cfg.Journal.Driver)
	}
	if cfg.Idempotency.TTL.Duration < 0 {
		return fmt.Errorf("idempotency.ttl must not be negative")
	}
	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	if cfg.Engine.DefaultExpiration.Duration < 0 {
		return fmt.Errorf("engine.default_expiration must be positive")
	}
	return nil
}

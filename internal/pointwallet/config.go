package pointwallet

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// Config is the full runtime configuration loaded from config.yml.
// It is treated as immutable once applied to the ConfigStore.
type Config struct {
	Listen    string          `yaml:"listen"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	RateLimit RateLimitConfig `yaml:"rate_limit,omitempty"`
	Auth      AuthConfig      `yaml:"auth,omitempty"`
	Backend   BackendConfig   `yaml:"backend"`
	Transfer  TransferConfig  `yaml:"transfer"`
	State     StateConfig     `yaml:"state"`
}

func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.RateLimit = c.RateLimit.Clone()
	return &out
}

// Normalize fills defaults and stabilizes casing/whitespace.
func (c *Config) Normalize() {
	c.Listen = strings.TrimSpace(c.Listen)
	if c.Listen == "" {
		c.Listen = "127.0.0.1:7410"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = LogFormat(strings.ToLower(strings.TrimSpace(string(c.Logging.Format))))
	if c.Logging.Format == "" {
		c.Logging.Format = LogFormatText
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = 120
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 20
	}
	if c.Auth.MaxAgeSeconds <= 0 {
		c.Auth.MaxAgeSeconds = 300
	}
	c.Backend.Type = BackendType(strings.ToLower(strings.TrimSpace(string(c.Backend.Type))))
	if c.Backend.Type == "" {
		c.Backend.Type = BackendTypeInternal
	}
	c.Backend.Address = strings.TrimSpace(c.Backend.Address)
	if c.Backend.Type == BackendTypeHTTP {
		c.Backend.Address = strings.TrimSuffix(c.Backend.Address, "/")
	}
	if c.Backend.TimeoutSeconds <= 0 {
		c.Backend.TimeoutSeconds = 10
	}
	if strings.TrimSpace(c.Backend.InitialBalance) == "" {
		c.Backend.InitialBalance = "0"
	}
	c.Transfer.Destination = strings.TrimSpace(c.Transfer.Destination)
	c.State.Path = strings.TrimSpace(c.State.Path)
	if c.State.Path == "" && !c.State.InMemory {
		c.State.Path = "pointwallet.db"
	}
}

// Validate checks that the normalized config is internally consistent.
func (c *Config) Validate() error {
	if !govalidator.IsDialString(c.Listen) {
		return fmt.Errorf("listen must be host:port, got %q", c.Listen)
	}
	if _, ok := parseLogLevel(c.Logging.Level); !ok {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("logging.format must be one of: text, json")
	}
	if c.RateLimit.EnabledOrDefault() {
		if c.RateLimit.RequestsPerMinute <= 0 {
			return fmt.Errorf("rate_limit.requests_per_minute must be > 0")
		}
		if c.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate_limit.burst must be > 0")
		}
	}
	switch c.Backend.Type {
	case BackendTypeInternal:
		if _, err := decimal.NewFromString(c.Backend.InitialBalance); err != nil {
			return fmt.Errorf("backend.initial_balance must be a decimal: %w", err)
		}
	case BackendTypeGRPC:
		if !govalidator.IsDialString(c.Backend.Address) {
			return fmt.Errorf("backend.address must be host:port for grpc backends")
		}
	case BackendTypeHTTP:
		if !govalidator.IsURL(c.Backend.Address) {
			return fmt.Errorf("backend.address must be a URL for http backends")
		}
	default:
		return fmt.Errorf("backend.type must be one of: internal, grpc, http")
	}
	if c.Transfer.Destination == "" {
		return fmt.Errorf("transfer.destination is required")
	}
	if c.State.Path == "" && !c.State.InMemory {
		return fmt.Errorf("state.path is required unless state.in_memory is set")
	}
	return nil
}

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type LoggingConfig struct {
	Level  string    `yaml:"level"`
	Format LogFormat `yaml:"format,omitempty"`
}

type RateLimitConfig struct {
	// Enabled defaults to true when omitted.
	Enabled           *bool `yaml:"enabled,omitempty"`
	RequestsPerMinute int   `yaml:"requests_per_minute,omitempty"`
	Burst             int   `yaml:"burst,omitempty"`
}

func (r RateLimitConfig) Clone() RateLimitConfig {
	var enabled *bool
	if r.Enabled != nil {
		v := *r.Enabled
		enabled = &v
	}
	return RateLimitConfig{
		Enabled:           enabled,
		RequestsPerMinute: r.RequestsPerMinute,
		Burst:             r.Burst,
	}
}

func (r RateLimitConfig) EnabledOrDefault() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// AuthConfig protects the command surface. An empty secret disables auth,
// which is only sensible when listening on loopback.
type AuthConfig struct {
	Secret        string `yaml:"secret,omitempty"`
	MaxAgeSeconds int    `yaml:"max_age_seconds,omitempty"`
}

func (a AuthConfig) MaxAge() time.Duration {
	return time.Duration(a.MaxAgeSeconds) * time.Second
}

type BackendType string

const (
	BackendTypeInternal BackendType = "internal"
	BackendTypeGRPC     BackendType = "grpc"
	BackendTypeHTTP     BackendType = "http"
)

type BackendConfig struct {
	Type           BackendType `yaml:"type"`
	Address        string      `yaml:"address,omitempty"`
	TimeoutSeconds int         `yaml:"timeout_seconds,omitempty"`
	// InitialBalance seeds wallets created by the internal ledger.
	InitialBalance string `yaml:"initial_balance,omitempty"`
}

func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

type TransferConfig struct {
	Destination string `yaml:"destination"`
}

type StateConfig struct {
	Path     string `yaml:"path,omitempty"`
	InMemory bool   `yaml:"in_memory,omitempty"`
}

func boolPtr(v bool) *bool {
	return &v
}

func LoadOrCreateConfig(path string, defaultCfg *Config) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err == nil {
		return cfg, nil
	}

	// Any errors other than file not found?
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg = defaultCfg.Clone()
	if err := SaveConfig(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	// Normalize before save so the watcher can re-load without churn.
	cfg.Normalize()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return saveConfigAtomic(path, data)
}

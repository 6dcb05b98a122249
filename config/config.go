// Package config loads agentpipe settings from YAML or TOML files.
//
// Load starts from Default, decodes the file over it (so absent keys keep
// their defaults) and validates the result. The Config type offers small
// adapters that turn each section into the functional options of the
// package it configures.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentpipe/budget"
	"github.com/hupe1980/agentpipe/logging"
	"github.com/hupe1980/agentpipe/memory"
	"github.com/hupe1980/agentpipe/retry"
)

// ErrUnsupportedFormat is returned for files that are neither YAML nor TOML.
var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// Config is the root configuration.
type Config struct {
	Provider  ProviderConfig  `yaml:"provider" toml:"provider"`
	Budget    BudgetConfig    `yaml:"budget" toml:"budget"`
	Retry     RetryConfig     `yaml:"retry" toml:"retry"`
	Agent     AgentConfig     `yaml:"agent" toml:"agent"`
	Memory    MemoryConfig    `yaml:"memory" toml:"memory"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ProviderConfig selects the model transport.
type ProviderConfig struct {
	// Name is "openai" or "anthropic".
	Name  string `yaml:"name" toml:"name"`
	Model string `yaml:"model" toml:"model"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv   string  `yaml:"api_key_env" toml:"api_key_env"`
	Temperature float64 `yaml:"temperature" toml:"temperature"`
	// MaxTokens is the output-size hint; it is also reserved when trimming.
	MaxTokens int `yaml:"max_tokens" toml:"max_tokens"`
}

// APIKey reads the key from the configured environment variable.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// BudgetConfig configures context trimming.
type BudgetConfig struct {
	MaxTokens        int     `yaml:"max_tokens" toml:"max_tokens"`
	Margin           float64 `yaml:"margin" toml:"margin"`
	KeepLastMessages int     `yaml:"keep_last_messages" toml:"keep_last_messages"`
}

// RetryConfig configures the retry policy.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries" toml:"max_retries"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" toml:"attempt_timeout"`
	BaseDelay      time.Duration `yaml:"base_delay" toml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay" toml:"max_delay"`
}

// AgentConfig configures the agent loop.
type AgentConfig struct {
	MaxIterations    int    `yaml:"max_iterations" toml:"max_iterations"`
	Instruction      string `yaml:"instruction" toml:"instruction"`
	DetectDuplicates bool   `yaml:"detect_duplicates" toml:"detect_duplicates"`
}

// MemoryConfig selects the conversation store.
type MemoryConfig struct {
	// Backend is "memory", "redis" or "sqlite".
	Backend    string        `yaml:"backend" toml:"backend"`
	URL        string        `yaml:"url" toml:"url"`   // redis
	Path       string        `yaml:"path" toml:"path"` // sqlite
	KeyPrefix  string        `yaml:"key_prefix" toml:"key_prefix"`
	TTL        time.Duration `yaml:"ttl" toml:"ttl"`
	HistoryCap int           `yaml:"history_cap" toml:"history_cap"`
}

// RateLimitConfig limits provider requests. A zero rate disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:      "openai",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Budget: BudgetConfig{
			MaxTokens:        8192,
			Margin:           0.8,
			KeepLastMessages: 4,
		},
		Retry: RetryConfig{
			MaxRetries:     2,
			AttemptTimeout: 60 * time.Second,
			BaseDelay:      200 * time.Millisecond,
			MaxDelay:       5 * time.Second,
		},
		Agent: AgentConfig{
			MaxIterations:    10,
			DetectDuplicates: true,
		},
		Memory: MemoryConfig{
			Backend: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path, choosing the decoder by extension (.yaml, .yml, .toml).
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = decodeYAML(data, cfg)
	case ".toml":
		err = decodeTOML(data, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		// An empty document leaves the defaults untouched.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to decode YAML: %w", err)
	}
	return nil
}

func decodeTOML(data []byte, cfg *Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// BudgetOptions returns the options for budget.NewManager.
func (c *Config) BudgetOptions() func(o *budget.Options) {
	return func(o *budget.Options) {
		o.MaxTokens = c.Budget.MaxTokens
		o.Margin = c.Budget.Margin
		o.KeepLastMessages = c.Budget.KeepLastMessages
	}
}

// RetryOptions returns the options for retry.NewPolicy.
func (c *Config) RetryOptions() func(o *retry.Options) {
	return func(o *retry.Options) {
		o.MaxRetries = c.Retry.MaxRetries
		o.AttemptTimeout = c.Retry.AttemptTimeout
		o.BaseDelay = c.Retry.BaseDelay
		o.MaxDelay = c.Retry.MaxDelay
	}
}

// Limiter returns the provider rate limiter, or nil when disabled.
func (c *Config) Limiter() *rate.Limiter {
	if c.RateLimit.RequestsPerSecond <= 0 {
		return nil
	}
	burst := c.RateLimit.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.RateLimit.RequestsPerSecond), burst)
}

// LoggerConfig returns the logger configuration.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	cfg := logging.DefaultLoggerConfig()
	if lvl, err := logging.ParseLevel(c.Logging.Level); err == nil {
		cfg.Level = lvl
	}
	if c.Logging.Format != "" {
		cfg.Format = c.Logging.Format
	}
	return cfg
}

// NewStore creates the configured conversation store.
func (c *Config) NewStore(logger logging.Logger) (memory.Store, error) {
	optFns := []func(o *memory.Options){
		memory.WithHistoryCap(c.Memory.HistoryCap),
		memory.WithLogger(logger),
	}
	switch strings.ToLower(c.Memory.Backend) {
	case "", "memory":
		return memory.NewInMemoryStore(optFns...), nil
	case "redis":
		return memory.NewRedisStore(memory.RedisOptions{
			URL:       c.Memory.URL,
			KeyPrefix: c.Memory.KeyPrefix,
			TTL:       c.Memory.TTL,
		}, optFns...)
	case "sqlite":
		return memory.NewSQLiteStore(c.Memory.Path, optFns...)
	}
	return nil, fmt.Errorf("unknown memory backend %q", c.Memory.Backend)
}

package config

import (
	"fmt"
	"strings"

	"github.com/hupe1980/agentpipe/logging"
)

// ValidationError reports one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid field of a Config.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidationErrors listing
// every problem, or nil.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Provider.Name {
	case "openai", "anthropic":
	default:
		add("provider.name", "must be openai or anthropic, got %q", c.Provider.Name)
	}
	if c.Provider.Model == "" {
		add("provider.model", "must not be empty")
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		add("provider.temperature", "must be between 0 and 2")
	}
	if c.Provider.MaxTokens < 0 {
		add("provider.max_tokens", "must not be negative")
	}

	if c.Budget.MaxTokens < 0 {
		add("budget.max_tokens", "must not be negative")
	}
	if c.Budget.Margin <= 0 || c.Budget.Margin > 1 {
		add("budget.margin", "must be in (0, 1]")
	}
	if c.Budget.KeepLastMessages < 0 {
		add("budget.keep_last_messages", "must not be negative")
	}
	if c.Budget.MaxTokens > 0 && c.Budget.Margin > 0 && c.Budget.Margin <= 1 {
		if limit := int(float64(c.Budget.MaxTokens) * c.Budget.Margin); c.Provider.MaxTokens > limit {
			add("provider.max_tokens", fmt.Sprintf("must not exceed budget.max_tokens * budget.margin (%d)", limit))
		}
	}

	if c.Retry.MaxRetries < 0 {
		add("retry.max_retries", "must not be negative")
	}
	if c.Retry.AttemptTimeout < 0 {
		add("retry.attempt_timeout", "must not be negative")
	}
	if c.Retry.BaseDelay < 0 {
		add("retry.base_delay", "must not be negative")
	}
	if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.BaseDelay {
		add("retry.max_delay", "must not be smaller than retry.base_delay")
	}

	if c.Agent.MaxIterations < 1 {
		add("agent.max_iterations", "must be at least 1")
	}

	switch strings.ToLower(c.Memory.Backend) {
	case "", "memory":
	case "redis":
		if c.Memory.URL == "" {
			add("memory.url", "is required for the redis backend")
		}
	case "sqlite":
		if c.Memory.Path == "" {
			add("memory.path", "is required for the sqlite backend")
		}
	default:
		add("memory.backend", "must be memory, redis or sqlite, got %q", c.Memory.Backend)
	}
	if c.Memory.HistoryCap < 0 {
		add("memory.history_cap", "must not be negative")
	}
	if c.Memory.TTL < 0 {
		add("memory.ttl", "must not be negative")
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		add("rate_limit.requests_per_second", "must not be negative")
	}
	if c.RateLimit.Burst < 0 {
		add("rate_limit.burst", "must not be negative")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", "%v", err)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		add("logging.format", "must be json or text, got %q", c.Logging.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

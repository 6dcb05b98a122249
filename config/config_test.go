package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentpipe/budget"
	"github.com/hupe1980/agentpipe/logging"
	"github.com/hupe1980/agentpipe/memory"
	"github.com/hupe1980/agentpipe/retry"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "agentpipe.yaml", `
provider:
  name: anthropic
  model: claude-sonnet
  max_tokens: 1024
budget:
  max_tokens: 16000
retry:
  max_retries: 4
  attempt_timeout: 30s
agent:
  instruction: "You are terse."
memory:
  backend: sqlite
  path: /tmp/conv.db
  history_cap: 50
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Provider.Name)
	assert.Equal(t, 1024, cfg.Provider.MaxTokens)
	assert.Equal(t, 16000, cfg.Budget.MaxTokens)
	assert.Equal(t, 4, cfg.Retry.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Retry.AttemptTimeout)
	assert.Equal(t, "You are terse.", cfg.Agent.Instruction)
	assert.Equal(t, "sqlite", cfg.Memory.Backend)
	assert.Equal(t, 50, cfg.Memory.HistoryCap)

	// Untouched keys keep their defaults.
	def := Default()
	assert.Equal(t, def.Budget.Margin, cfg.Budget.Margin)
	assert.Equal(t, def.Retry.BaseDelay, cfg.Retry.BaseDelay)
	assert.Equal(t, def.Agent.MaxIterations, cfg.Agent.MaxIterations)
	assert.True(t, cfg.Agent.DetectDuplicates)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "agentpipe.toml", `
[provider]
name = "openai"
model = "gpt-4o"
api_key_env = "MY_KEY"

[retry]
max_retries = 0
max_delay = "2s"

[memory]
backend = "redis"
url = "redis://localhost:6379/0"
ttl = "1h"

[rate_limit]
requests_per_second = 2.5
burst = 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Provider.Model)
	assert.Equal(t, 0, cfg.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, time.Hour, cfg.Memory.TTL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Memory.URL)

	lim := cfg.Limiter()
	require.NotNil(t, lim)
	assert.InDelta(t, 2.5, float64(lim.Limit()), 1e-9)
	assert.Equal(t, 3, lim.Burst())
}

func TestLoadEmptyYAMLKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "budget:\n  max_tokenz: 1\n"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "bad.toml", "[budget]\nmax_tokenz = 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "budget.max_tokenz")
}

func TestLoadUnsupportedFormat(t *testing.T) {
	_, err := Load(writeFile(t, "config.json", "{}"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Provider.Name = "llama"
	cfg.Budget.Margin = 1.5
	cfg.Agent.MaxIterations = 0
	cfg.Memory.Backend = "redis"
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)

	var errs ValidationErrors
	require.ErrorAs(t, err, &errs)

	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{
		"provider.name", "budget.margin", "agent.max_iterations", "memory.url", "logging.level",
	}, fields)
	assert.Contains(t, err.Error(), "; ")
}

func TestValidateOutputHintFitsWindow(t *testing.T) {
	cfg := Default()
	cfg.Budget.MaxTokens = 1000
	cfg.Budget.Margin = 0.8
	cfg.Provider.MaxTokens = 1000
	assert.Error(t, cfg.Validate())

	cfg.Provider.MaxTokens = 900
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(800)")

	cfg.Provider.MaxTokens = 800
	assert.NoError(t, cfg.Validate())

	cfg.Budget.MaxTokens = 0
	cfg.Provider.MaxTokens = 4096
	assert.NoError(t, cfg.Validate())
}

func TestLoadInvalidConfig(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "agent:\n  max_iterations: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent.max_iterations")
}

func TestOptionAdapters(t *testing.T) {
	cfg := Default()
	cfg.Budget.MaxTokens = 500
	cfg.Retry.MaxRetries = 7

	var bo budget.Options
	cfg.BudgetOptions()(&bo)
	assert.Equal(t, 500, bo.MaxTokens)
	assert.Equal(t, cfg.Budget.Margin, bo.Margin)

	var ro retry.Options
	cfg.RetryOptions()(&ro)
	assert.Equal(t, 7, ro.MaxRetries)
	assert.Equal(t, cfg.Retry.AttemptTimeout, ro.AttemptTimeout)

	assert.Nil(t, cfg.Limiter())

	lc := cfg.LoggerConfig()
	assert.Equal(t, logging.LogLevelInfo, lc.Level)
	assert.Equal(t, "text", lc.Format)
}

func TestNewStore(t *testing.T) {
	cfg := Default()
	store, err := cfg.NewStore(logging.NoOpLogger{})
	require.NoError(t, err)
	assert.IsType(t, &memory.InMemoryStore{}, store)

	cfg.Memory.Backend = "sqlite"
	cfg.Memory.Path = filepath.Join(t.TempDir(), "conv.db")
	store, err = cfg.NewStore(logging.NoOpLogger{})
	require.NoError(t, err)
	sqlite, ok := store.(*memory.SQLiteStore)
	require.True(t, ok)
	require.NoError(t, sqlite.Close())

	cfg.Memory.Backend = "etcd"
	_, err = cfg.NewStore(logging.NoOpLogger{})
	assert.Error(t, err)
}

func TestAPIKey(t *testing.T) {
	t.Setenv("AGENTPIPE_TEST_KEY", "secret")
	p := ProviderConfig{APIKeyEnv: "AGENTPIPE_TEST_KEY"}
	assert.Equal(t, "secret", p.APIKey())
	assert.Empty(t, ProviderConfig{}.APIKey())
}

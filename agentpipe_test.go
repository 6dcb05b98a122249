package agentpipe

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentpipe/config"
	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/internal/testutil"
	"github.com/hupe1980/agentpipe/memory"
	"github.com/hupe1980/agentpipe/model"
	"github.com/hupe1980/agentpipe/pipeline"
	"github.com/hupe1980/agentpipe/retry"
	"github.com/hupe1980/agentpipe/tool"
)

func TestNewRequiresModel(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilModel)
}

func TestRunPersistsConversation(t *testing.T) {
	m := model.NewScriptedModel(model.TextScript("Hello Ada."), model.TextScript("You are Ada."))
	p, err := New(m)
	require.NoError(t, err)

	ctx := context.Background()
	res, err := p.Run(ctx, "s1", "I am Ada.")
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada.", res.Text())

	res, err = p.Run(ctx, "s1", "Who am I?")
	require.NoError(t, err)
	assert.Equal(t, "You are Ada.", res.Text())

	// The second call sees the first exchange.
	sent := m.Requests()[1].Conversation
	require.Equal(t, 3, sent.Len())
	assert.Equal(t, "I am Ada.", sent.At(0).Text())

	stored, err := p.Store().Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Len())

	other, err := p.Store().Load(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 0, other.Len())
}

func TestRunAcceptsSameAnswerAcrossTurns(t *testing.T) {
	m := model.NewScriptedModel(model.TextScript("Done."))
	p, err := New(m)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = p.Run(ctx, "s1", "Save file a.")
	require.NoError(t, err)
	res, err := p.Run(ctx, "s1", "Save file b.")
	require.NoError(t, err)
	assert.Equal(t, "Done.", res.Text())
	assert.Equal(t, 2, m.Calls())
}

func TestRunWithTools(t *testing.T) {
	m := model.NewScriptedModel(
		testutil.CallScript("c1", "Clock.Now", `{}`),
		model.TextScript("It is noon."),
	)
	cat := tool.NewCatalog()
	require.NoError(t, cat.Register(tool.Definition{Scope: "Clock", Method: "Now", Fn: func() string { return "12:00" }}))

	p, err := New(m, func(o *Options) { o.Catalog = cat })
	require.NoError(t, err)

	res, err := p.Run(context.Background(), "s1", "time?")
	require.NoError(t, err)
	assert.Equal(t, "It is noon.", res.Text())
	assert.Equal(t, 1, res.Iterations)
	assert.NotEmpty(t, m.Requests()[0].Tools)
	assert.Positive(t, p.Usage().Output)
}

func TestRunDoesNotSaveOnFailure(t *testing.T) {
	m := model.NewScriptedModel(testutil.CallScript("c1", "Missing.Tool", `{}`))
	store := memory.NewInMemoryStore()
	p, err := New(m, func(o *Options) {
		o.Store = store
		o.Pipeline = append(o.Pipeline, func(po *pipeline.Options) {
			po.Retry = retry.NewPolicy(func(ro *retry.Options) { ro.MaxRetries = 0 })
		})
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), "s1", "hi")
	require.Error(t, err)
	assert.Empty(t, store.Sessions())
}

func TestRunInvalidSession(t *testing.T) {
	p, err := New(model.NewScriptedModel())
	require.NoError(t, err)

	_, err = p.Run(context.Background(), " ", "hi")
	assert.ErrorIs(t, err, memory.ErrInvalidSession)
}

func TestRunCancelledStillSaves(t *testing.T) {
	m := model.NewScriptedModel(model.TextScript("never"))
	p, err := New(m)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := p.Run(ctx, "s1", "hi")
	require.NoError(t, err)
	assert.True(t, res.Response.Cancelled())

	stored, err := p.Store().Load(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, 1, stored.Len())
	assert.Equal(t, core.RoleUser, stored.At(0).Role)
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Provider.APIKeyEnv = ""
	cfg.Memory.Backend = "sqlite"
	cfg.Memory.Path = filepath.Join(t.TempDir(), "conv.db")
	cfg.RateLimit.RequestsPerSecond = 5

	p, err := NewFromConfig(cfg)
	require.NoError(t, err)
	assert.IsType(t, &memory.SQLiteStore{}, p.Store())
	assert.NoError(t, p.Close())

	cfg.Agent.MaxIterations = 0
	_, err = NewFromConfig(cfg)
	assert.Error(t, err)
}

func TestNewModel(t *testing.T) {
	m, err := NewModel(config.ProviderConfig{Name: "anthropic", Model: "claude-sonnet"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", m.Info().Provider)

	m, err = NewModel(config.ProviderConfig{Name: "openai", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "openai", m.Info().Provider)

	_, err = NewModel(config.ProviderConfig{Name: "local"})
	assert.Error(t, err)
}

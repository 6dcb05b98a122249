// Package agentpipe provides a high-level façade over the execution pipeline,
// the agent loop and conversation memory. Most applications interact with
// this package by:
//  1. Creating an AgentPipe via New (or NewFromConfig) around a model
//  2. Registering tools in its catalog
//  3. Calling Run with a session id and the user's text
//
// Run loads the session's conversation, drives the agent loop until the model
// answers in text and saves the extended conversation back to the store. All
// defaults are in-memory and safe for local development and testing.
package agentpipe

import (
	"context"
	"errors"
	"fmt"
	"io"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agentpipe/agent"
	"github.com/hupe1980/agentpipe/budget"
	"github.com/hupe1980/agentpipe/config"
	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/logging"
	"github.com/hupe1980/agentpipe/memory"
	"github.com/hupe1980/agentpipe/model"
	"github.com/hupe1980/agentpipe/model/anthropic"
	"github.com/hupe1980/agentpipe/model/openai"
	"github.com/hupe1980/agentpipe/pipeline"
	"github.com/hupe1980/agentpipe/retry"
	"github.com/hupe1980/agentpipe/tool"
)

// ErrNilModel is returned by New when no model is given.
var ErrNilModel = errors.New("agentpipe: model is nil")

// Options configures an AgentPipe.
type Options struct {
	// Catalog holds the tools offered to the model. Defaults to an empty one.
	Catalog *tool.Catalog
	// Store persists conversations. Defaults to an in-memory store.
	Store memory.Store
	// Logger defaults to a NoOp logger.
	Logger logging.Logger
	// Request is the request template for every model call.
	Request model.Request
	// Pipeline customizes the executor.
	Pipeline []func(o *pipeline.Options)
	// Loop customizes the agent loop.
	Loop []agent.LoopOption
}

// AgentPipe wires an executor, an agent loop and a conversation store.
type AgentPipe struct {
	opts Options
	exec *pipeline.Executor
	loop *agent.Loop
}

// New creates an AgentPipe driving m.
func New(m model.Model, optFns ...func(o *Options)) (*AgentPipe, error) {
	if m == nil {
		return nil, ErrNilModel
	}
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Catalog == nil {
		opts.Catalog = tool.NewCatalog(func(o *tool.CatalogOptions) { o.Logger = opts.Logger })
	}
	if opts.Store == nil {
		opts.Store = memory.NewInMemoryStore(memory.WithLogger(opts.Logger))
	}

	pipeOpts := append([]func(o *pipeline.Options){func(o *pipeline.Options) { o.Logger = opts.Logger }}, opts.Pipeline...)
	exec := pipeline.New(m, opts.Catalog, pipeOpts...)

	runtime := tool.NewRuntime(opts.Catalog, func(o *tool.RuntimeOptions) { o.Logger = opts.Logger })
	loopOpts := append([]agent.LoopOption{agent.WithLogger(opts.Logger), agent.WithRequest(opts.Request)}, opts.Loop...)

	return &AgentPipe{
		opts: opts,
		exec: exec,
		loop: agent.NewLoop(exec, runtime, loopOpts...),
	}, nil
}

// NewFromConfig creates an AgentPipe from cfg: it builds the provider model,
// the logger, the conversation store and the budget, retry and rate limit
// settings. optFns are applied after the configuration.
func NewFromConfig(cfg *config.Config, optFns ...func(o *Options)) (*AgentPipe, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.NewLogger(cfg.LoggerConfig()).With("provider", cfg.Provider.Name)
	m, err := NewModel(cfg.Provider)
	if err != nil {
		return nil, err
	}
	store, err := cfg.NewStore(logger.WithComponent("memory"))
	if err != nil {
		return nil, fmt.Errorf("failed to create memory store: %w", err)
	}

	estimator := budget.NewCharEstimator()
	base := func(o *Options) {
		o.Logger = logger
		o.Store = store
		if cfg.Provider.MaxTokens > 0 {
			n := cfg.Provider.MaxTokens
			o.Request.MaxTokens = &n
		}
		if cfg.Provider.Temperature > 0 {
			t := cfg.Provider.Temperature
			o.Request.Temperature = &t
		}
		o.Pipeline = []func(o *pipeline.Options){func(po *pipeline.Options) {
			po.Logger = logger.WithComponent("pipeline")
			po.Estimator = estimator
			po.Budget = budget.NewManager(cfg.BudgetOptions(), func(bo *budget.Options) {
				bo.Counter = estimator
				bo.Logger = logger.WithComponent("budget")
			})
			po.Retry = retry.NewPolicy(cfg.RetryOptions(), func(ro *retry.Options) { ro.Logger = logger.WithComponent("retry") })
			po.Limiter = cfg.Limiter()
			po.DetectDuplicates = cfg.Agent.DetectDuplicates
		}}
		o.Loop = []agent.LoopOption{
			agent.WithLogger(logger.WithComponent("agent")),
			agent.WithMaxIterations(cfg.Agent.MaxIterations),
		}
		if cfg.Agent.Instruction != "" {
			o.Loop = append(o.Loop, agent.WithInstruction(cfg.Agent.Instruction))
		}
	}

	p, err := New(m, append([]func(o *Options){base}, optFns...)...)
	if err != nil {
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}
	return p, nil
}

// NewModel creates the provider model described by cfg.
func NewModel(cfg config.ProviderConfig) (model.Model, error) {
	switch cfg.Name {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			o.Model = cfg.Model
			o.APIKey = cfg.APIKey()
			if cfg.Temperature > 0 {
				o.Temperature = cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = int64(cfg.MaxTokens)
			}
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.Model = anthropicsdk.Model(cfg.Model)
			o.APIKey = cfg.APIKey()
			if cfg.Temperature > 0 {
				o.Temperature = cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxTokens = int64(cfg.MaxTokens)
			}
		}), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Name)
}

// Catalog returns the tool catalog. Tools registered after New are offered
// from the next call on.
func (p *AgentPipe) Catalog() *tool.Catalog { return p.opts.Catalog }

// Executor returns the underlying pipeline executor.
func (p *AgentPipe) Executor() *pipeline.Executor { return p.exec }

// Store returns the conversation store.
func (p *AgentPipe) Store() memory.Store { return p.opts.Store }

// Usage returns the accumulated token usage of all calls.
func (p *AgentPipe) Usage() core.TokenUsage { return p.exec.Usage().Total() }

// Run loads the session's conversation, runs the agent loop with userText and
// saves the resulting conversation. The conversation is not saved when the
// loop fails.
func (p *AgentPipe) Run(ctx context.Context, sessionID, userText string) (*agent.Result, error) {
	logger := p.opts.Logger
	if pl, ok := logger.(*logging.PipelineLogger); ok {
		pl = pl.WithSession(sessionID)
		defer pl.StartTimer("agentpipe.run")()
		logger = pl
	}

	conv, err := p.opts.Store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %q: %w", sessionID, err)
	}

	res, err := p.loop.Run(ctx, conv, userText)
	if err != nil {
		return res, err
	}

	// A cancelled context would abort the save too.
	saveCtx := ctx
	if ctx.Err() != nil {
		saveCtx = context.WithoutCancel(ctx)
	}
	if err := p.opts.Store.Save(saveCtx, sessionID, res.Conversation); err != nil {
		return res, fmt.Errorf("failed to save session %q: %w", sessionID, err)
	}
	logger.Debug("agentpipe.run.done", "session_id", sessionID, "iterations", res.Iterations, "messages", res.Conversation.Len())
	return res, nil
}

// Close releases the store's resources if it holds any.
func (p *AgentPipe) Close() error {
	if c, ok := p.opts.Store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

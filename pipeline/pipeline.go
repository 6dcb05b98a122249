// Package pipeline turns a conversation and a tool catalog into one
// validated model response.
//
// Every Execute call runs the same state machine: the conversation is trimmed
// to the context budget, the request is streamed through fresh chunk
// handlers, any tool call is validated against the catalog and recoverable
// failures are retried with feedback before the response is built. The
// caller's conversation is never mutated.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/hupe1980/agentpipe/budget"
	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/internal/util"
	"github.com/hupe1980/agentpipe/logging"
	"github.com/hupe1980/agentpipe/model"
	"github.com/hupe1980/agentpipe/retry"
	"github.com/hupe1980/agentpipe/tool"
)

// TracerName is the instrumentation name of the default tracer.
const TracerName = "github.com/hupe1980/agentpipe"

// ErrNilModel is returned by Execute when the executor has no model.
var ErrNilModel = errors.New("pipeline: model is nil")

// ErrRepeatedOutput is wrapped by the recoverable failure raised when a
// response repeats the previous assistant turn.
var ErrRepeatedOutput = errors.New("the response repeats the previous assistant turn")

// Observer receives every chunk before the handlers do.
type Observer func(chunk model.StreamChunk)

// Options configures an Executor.
type Options struct {
	Budget *budget.Manager
	Retry  *retry.Policy
	// Observer is called for every chunk of every attempt.
	Observer Observer
	// Usage accumulates the token usage of all Execute calls.
	Usage *core.UsageCounter
	// Estimator fills in usage when the provider reports none. It is
	// calibrated from provider-reported input tokens.
	Estimator *budget.CharEstimator
	Tracer    trace.Tracer
	// Limiter, if set, is waited on before every attempt.
	Limiter *rate.Limiter
	Logger  logging.Logger
	// DetectDuplicates rejects a response that repeats the previous
	// assistant turn of the current exchange. Answers given before the
	// newest user message are not compared.
	DetectDuplicates bool
	// Processors run after trimming, in order.
	Processors []RequestProcessor
}

// Executor runs requests against a model. It is safe for concurrent use;
// all per-request state lives in the Execute call.
type Executor struct {
	model   model.Model
	catalog *tool.Catalog
	parser  *tool.Parser
	opts    Options
}

// New creates an Executor for m. The catalog may be nil.
func New(m model.Model, catalog *tool.Catalog, optFns ...func(o *Options)) *Executor {
	if catalog == nil {
		catalog = tool.NewCatalog()
	}
	opts := Options{
		Logger:           logging.NoOpLogger{},
		DetectDuplicates: true,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Estimator == nil && opts.Budget != nil {
		if est, ok := opts.Budget.Counter().(*budget.CharEstimator); ok {
			opts.Estimator = est
		}
	}
	if opts.Estimator == nil {
		opts.Estimator = budget.NewCharEstimator()
	}
	if opts.Budget == nil {
		opts.Budget = budget.NewManager(func(o *budget.Options) {
			o.Counter = opts.Estimator
			o.Logger = opts.Logger
		})
	}
	if opts.Retry == nil {
		opts.Retry = retry.NewPolicy(func(o *retry.Options) { o.Logger = opts.Logger })
	}
	if opts.Usage == nil {
		opts.Usage = core.NewUsageCounter()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(TracerName)
	}
	return &Executor{model: m, catalog: catalog, parser: tool.NewParser(catalog), opts: opts}
}

// WithTracer sets the tracer for pipeline spans.
func WithTracer(t trace.Tracer) func(o *Options) {
	return func(o *Options) { o.Tracer = t }
}

// WithTracerProvider takes the pipeline tracer from tp.
func WithTracerProvider(tp trace.TracerProvider) func(o *Options) {
	return WithTracer(tp.Tracer(TracerName))
}

// AddProcessor appends a request processor; order of registration defines
// execution order.
func (e *Executor) AddProcessor(p RequestProcessor) {
	e.opts.Processors = append(e.opts.Processors, p)
}

// Catalog returns the tool catalog offered to the model.
func (e *Executor) Catalog() *tool.Catalog { return e.catalog }

// Usage returns the cumulative usage counter.
func (e *Executor) Usage() *core.UsageCounter { return e.opts.Usage }

// Execute runs req and returns the response.
//
// Configuration errors (nil conversation, out-of-range output hint, failing
// processors, invalid result schema) are returned before anything is sent.
// Cancelling ctx yields a response with FinishCancelled that keeps the text
// and tool call streamed so far, and a nil error. When retries are exhausted
// the returned response carries the last partial result with Err set, and
// the same error is returned.
func (e *Executor) Execute(ctx context.Context, req model.Request) (*Response, error) {
	return e.execute(ctx, req, nil)
}

func (e *Executor) execute(ctx context.Context, req model.Request, decode func(json.RawMessage) error) (*Response, error) {
	if e.model == nil {
		return nil, ErrNilModel
	}
	if req.Conversation == nil {
		return nil, budget.ErrNilConversation
	}

	ctx, span := e.opts.Tracer.Start(ctx, "agentpipe.pipeline.execute",
		trace.WithAttributes(
			attribute.String("model.name", e.model.Info().Name),
			attribute.String("model.provider", e.model.Info().Provider),
			attribute.String("output", req.Output.String()),
		))
	defer span.End()

	prepared, st, err := e.prepare(ctx, req, decode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	res, runErr := e.opts.Retry.Run(ctx, prepared.Conversation, e.attempt(prepared), st)
	st.finishAttempt(runErr)

	resp := st.response()
	if res != nil {
		resp.Attempts = res.Attempts
		resp.Feedback = res.Feedback
	}

	switch {
	case runErr == nil:
	case ctx.Err() != nil && errors.Is(runErr, ctx.Err()):
		resp.Finish = model.FinishCancelled
		resp.Structured = nil
		runErr = nil
		e.opts.Logger.Info("pipeline.cancelled", "attempts", resp.Attempts, "partial_text", len(resp.Message))
	default:
		resp.Err = runErr
	}

	e.recordUsage(st, resp)
	e.logCall(resp, time.Since(start), runErr)

	span.SetAttributes(
		attribute.String("finish_reason", string(resp.Finish)),
		attribute.Int("attempts", resp.Attempts),
		attribute.Int("retries", len(resp.Feedback)),
		attribute.Int("usage.input_tokens", resp.Usage.Input),
		attribute.Int("usage.output_tokens", resp.Usage.Output),
		attribute.Bool("usage.estimated", resp.Estimated),
		attribute.Bool("tool_call", resp.HasToolCall()),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		return resp, runErr
	}
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

// prepare performs the synchronous steps before streaming: trimming, tool
// augmentation, request processors and schema compilation.
func (e *Executor) prepare(ctx context.Context, req model.Request, decode func(json.RawMessage) error) (model.Request, *attemptState, error) {
	var (
		trimmed *core.Conversation
		err     error
	)
	if req.MaxTokens != nil {
		trimmed, err = e.opts.Budget.TrimWithGap(req.Conversation, *req.MaxTokens)
	} else {
		trimmed, err = e.opts.Budget.Trim(req.Conversation)
	}
	if err != nil {
		return req, nil, err
	}
	req.Conversation = trimmed

	if len(req.Tools) == 0 && req.ToolChoice != "none" && e.catalog.Len() > 0 {
		req.Tools = e.catalog.Definitions()
	}

	for _, p := range e.opts.Processors {
		if err := p.ProcessRequest(ctx, &req); err != nil {
			return req, nil, fmt.Errorf("request processor %s failed: %w", p.Name(), err)
		}
	}

	st := &attemptState{
		exec:   e,
		req:    req,
		decode: decode,
		ctx:    ctx,
	}
	if req.Output == model.OutputStructured && req.ResultSchema != nil {
		st.schema, err = util.CompileSchema(req.ResultSchema)
		if err != nil {
			return req, nil, fmt.Errorf("invalid result schema: %w", err)
		}
	}
	if last, ok := req.Conversation.LastAssistantInTurn(); ok {
		st.previous = &last
	}
	return req, st, nil
}

// attempt returns the retry.Attempt that streams one model call.
func (e *Executor) attempt(req model.Request) retry.Attempt {
	return func(ctx context.Context, conv *core.Conversation) (<-chan model.StreamChunk, <-chan error) {
		if e.opts.Limiter != nil {
			if err := e.opts.Limiter.Wait(ctx); err != nil {
				return failedStream(err)
			}
		}
		return e.model.Generate(ctx, req.WithConversation(conv))
	}
}

func failedStream(err error) (<-chan model.StreamChunk, <-chan error) {
	chunks := make(chan model.StreamChunk)
	errs := make(chan error, 1)
	close(chunks)
	errs <- err
	close(errs)
	return chunks, errs
}

// recordUsage copies the usage of all attempts into resp and records it
// into the cumulative counter.
func (e *Executor) recordUsage(st *attemptState, resp *Response) {
	resp.Usage = st.usage
	resp.Estimated = st.estimated
	if resp.Usage.IsZero() && resp.Attempts == 0 {
		return
	}
	e.opts.Usage.Record(resp.Usage)
}

func (e *Executor) logCall(resp *Response, dur time.Duration, err error) {
	name := e.model.Info().Name
	if pl, ok := e.opts.Logger.(*logging.PipelineLogger); ok {
		pl.LogLLMCall(name, resp.Usage.Total(), dur, err)
		return
	}
	if err != nil {
		e.opts.Logger.Error("llm.call.error", "model", name, "token_count", resp.Usage.Total(), "duration", dur, "error", err.Error())
		return
	}
	e.opts.Logger.Info("llm.call.done", "model", name, "token_count", resp.Usage.Total(), "duration", dur)
}

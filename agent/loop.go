package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/logging"
	"github.com/hupe1980/agentpipe/model"
	"github.com/hupe1980/agentpipe/pipeline"
	"github.com/hupe1980/agentpipe/retry"
	"github.com/hupe1980/agentpipe/tool"
)

// DefaultMaxIterations bounds the tool calls of one Run unless configured.
const DefaultMaxIterations = 10

// ErrNilConversation is returned by Run when no conversation is given.
var ErrNilConversation = errors.New("agent: conversation is nil")

// Loop runs the pipeline until the model answers without a tool call.
type Loop struct {
	exec          *pipeline.Executor
	runtime       *tool.Runtime
	maxIterations int
	instruction   Instruction
	state         func() map[string]any
	request       model.Request
	logger        logging.Logger
}

// LoopOption defines a configuration function for customizing Loop behavior.
type LoopOption func(*Loop)

// WithMaxIterations sets the maximum number of tool invocations per Run.
// Values below one are ignored.
func WithMaxIterations(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// WithInstruction sets a static system instruction template.
func WithInstruction(text string) LoopOption {
	return func(l *Loop) { l.instruction = NewInstructionFromText(text) }
}

// WithInstructionProvider sets a dynamic system instruction.
func WithInstructionProvider(inst Instruction) LoopOption {
	return func(l *Loop) { l.instruction = inst }
}

// WithState sets the data the instruction template is rendered with. fn is
// called before every pipeline call.
func WithState(fn func() map[string]any) LoopOption {
	return func(l *Loop) { l.state = fn }
}

// WithRequest sets the request template (model, sampling parameters, output
// hint, tool choice) used for every pipeline call. Its conversation is
// ignored.
func WithRequest(req model.Request) LoopOption {
	return func(l *Loop) { l.request = req }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// NewLoop creates a Loop. The runtime must resolve tools from the same
// catalog the executor offers to the model.
func NewLoop(exec *pipeline.Executor, runtime *tool.Runtime, opts ...LoopOption) *Loop {
	l := &Loop{
		exec:          exec,
		runtime:       runtime,
		maxIterations: DefaultMaxIterations,
		logger:        logging.NoOpLogger{},
	}
	for _, o := range opts {
		o(l)
	}
	if l.runtime == nil && exec != nil {
		l.runtime = tool.NewRuntime(exec.Catalog(), func(o *tool.RuntimeOptions) { o.Logger = l.logger })
	}
	return l
}

// Result is the outcome of one Run.
type Result struct {
	// Response is the last pipeline response.
	Response *pipeline.Response
	// Conversation is the scratch conversation including the user request,
	// every tool call with its result and the final answer.
	Conversation *core.Conversation
	// Iterations counts the tool invocations.
	Iterations int
}

// Final reports whether the run ended with a text answer.
func (r *Result) Final() bool {
	return r.Response != nil && !r.Response.HasToolCall() && !r.Response.Cancelled() && r.Response.Err == nil
}

// Text returns the final answer text.
func (r *Result) Text() string {
	if r.Response == nil {
		return ""
	}
	return r.Response.Message
}

// Run appends userText (if not empty) to a copy of conv and drives the
// pipeline until the model answers in text or the iteration cap is reached.
//
// Cancellation is not an error: the result carries a response with
// model.FinishCancelled. Errors from the pipeline (configuration errors,
// exhausted retries) are returned together with the partial result.
func (l *Loop) Run(ctx context.Context, conv *core.Conversation, userText string) (*Result, error) {
	if conv == nil {
		return nil, ErrNilConversation
	}
	scratch := conv.Clone()
	if userText != "" {
		scratch.Append(core.UserChat(userText))
	}
	res := &Result{Conversation: scratch}

	instructions, err := l.instructions(ctx)
	if err != nil {
		return nil, err
	}

	for {
		if ctx.Err() != nil {
			res.Response = cancelled(res.Response)
			return res, nil
		}

		req := l.request
		req.Conversation = scratch
		if instructions != nil {
			if err := instructions.ProcessRequest(ctx, &req); err != nil {
				return res, err
			}
		}

		l.logger.Debug("agent.iteration", "iteration", res.Iterations+1, "messages", scratch.Len())
		resp, err := l.exec.Execute(ctx, req)
		if resp != nil {
			res.Response = resp
		}
		if err != nil {
			if repeatedCall(resp, err) {
				// The model keeps asking for the call it just made. Stop
				// like the iteration cap does, without running it again.
				l.logger.Warn("agent.repeated_call", "iterations", res.Iterations, "tool_name", resp.ToolCall.Name)
				stop := *resp
				stop.Err = nil
				res.Response = &stop
				return res, nil
			}
			return res, err
		}
		if resp.Cancelled() {
			return res, nil
		}
		if !resp.HasToolCall() {
			scratch.Append(resp.Chat())
			return res, nil
		}

		call := resp.ToolCall.Clone()
		call.Message = resp.Message
		start := time.Now()
		result := l.runtime.HandleToolCall(ctx, call)
		l.logToolCall(call.Name, time.Since(start), result.Err)

		scratch.Append(core.ToolCallChat(call), core.ToolResultChat(result))
		res.Iterations++

		if ctx.Err() != nil {
			res.Response = cancelled(res.Response)
			return res, nil
		}
		if res.Iterations >= l.maxIterations {
			l.logger.Warn("agent.max_iterations", "iterations", res.Iterations)
			return res, nil
		}
	}
}

// instructions resolves the instruction once per Run.
func (l *Loop) instructions(ctx context.Context) (*pipeline.InstructionsProcessor, error) {
	if l.instruction.IsZero() {
		return nil, nil
	}
	text, err := l.instruction.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve instruction: %w", err)
	}
	if text == "" {
		return nil, nil
	}
	l.logger.Debug("agent.instruction.resolved", "length", len(text))
	return pipeline.NewInstructionsProcessor(text, l.state), nil
}

func (l *Loop) logToolCall(name string, dur time.Duration, err error) {
	if pl, ok := l.logger.(*logging.PipelineLogger); ok {
		pl.LogToolCall(name, dur, err)
		return
	}
	if err != nil {
		l.logger.Error("tool.invoke.error", "tool_name", name, "duration", dur, "error", err.Error())
		return
	}
	l.logger.Info("tool.invoke.done", "tool_name", name, "duration", dur)
}

// repeatedCall reports whether the pipeline gave up because every attempt
// repeated the previous tool call.
func repeatedCall(resp *pipeline.Response, err error) bool {
	return resp != nil && resp.ToolCall != nil &&
		errors.Is(err, retry.ErrRetriesExhausted) && errors.Is(err, pipeline.ErrRepeatedOutput)
}

// cancelled marks resp, or a fresh response, as cancelled.
func cancelled(resp *pipeline.Response) *pipeline.Response {
	out := &pipeline.Response{}
	if resp != nil {
		*out = *resp
	}
	out.Finish = model.FinishCancelled
	return out
}

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentpipe/budget"
	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/handler"
	"github.com/hupe1980/agentpipe/logging"
	"github.com/hupe1980/agentpipe/model"
	"github.com/hupe1980/agentpipe/retry"
)

// attemptState is the request-scoped state of one Execute call. It
// implements retry.AttemptHandler and is only touched by the goroutine
// running the retry policy.
type attemptState struct {
	exec     *Executor
	req      model.Request
	ctx      context.Context
	schema   *jsonschema.Schema
	decode   func(json.RawMessage) error
	previous *core.Chat

	attempt   int
	started   time.Time
	conv      *core.Conversation
	set       *handler.Set
	span      trace.Span
	accounted bool

	candidate *Response
	usage     core.TokenUsage
	estimated bool
}

var _ retry.AttemptHandler = (*attemptState)(nil)

// Begin implements retry.AttemptHandler.
func (s *attemptState) Begin(attempt int, conv *core.Conversation) {
	s.finishAttempt(errors.New("attempt retried"))

	s.attempt = attempt
	s.started = time.Now()
	s.conv = conv
	s.accounted = false
	s.candidate = nil
	s.set = handler.NewSet(s.req.Output, s.exec.parser, s.schema)
	s.set.OnRequest(s.req.WithConversation(conv))

	_, s.span = s.exec.opts.Tracer.Start(s.ctx, "agentpipe.pipeline.attempt",
		trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.Int("conversation.length", conv.Len()),
		))
	s.exec.opts.Logger.Debug("pipeline.attempt.start", "attempt", attempt, "messages", conv.Len())
}

// Chunk implements retry.AttemptHandler.
func (s *attemptState) Chunk(_ context.Context, chunk model.StreamChunk) error {
	if s.exec.opts.Observer != nil {
		s.exec.opts.Observer(chunk)
	}
	err := s.set.Dispatch(chunk)
	if errors.Is(err, retry.ErrEarlyStop) {
		s.exec.opts.Logger.Debug("pipeline.early_stop", "attempt", s.attempt, "chunk", chunk.Kind.String())
	}
	return err
}

// End implements retry.AttemptHandler. It validates the assembled response;
// every rejection is recoverable.
func (s *attemptState) End(_ context.Context) error {
	s.account()

	resp, err := s.validate()
	if err != nil {
		s.logAttempt(err.Error())
		return err
	}
	s.logAttempt("")
	s.candidate = resp
	return nil
}

func (s *attemptState) logAttempt(feedback string) {
	dur := time.Since(s.started)
	if pl, ok := s.exec.opts.Logger.(*logging.PipelineLogger); ok {
		pl.LogAttempt(s.attempt, dur, feedback)
		return
	}
	if feedback != "" {
		s.exec.opts.Logger.Warn("pipeline.attempt.retry", "attempt", s.attempt, "duration", dur, "feedback", feedback)
	}
}

func (s *attemptState) validate() (*Response, error) {
	resp := s.build()

	if resp.ToolCall == nil {
		if name, args, ok := s.set.ToolCall.Pending(); ok {
			return nil, retry.Recoverablef("the arguments of tool call %q are not complete JSON: %s", name, args)
		}
	}

	if resp.ToolCall != nil && !resp.ToolCall.IsTextOnly() {
		if err := s.exec.parser.Validate(resp.ToolCall); err != nil {
			return nil, retry.Recoverable(fmt.Sprintf("invalid call of tool %q", resp.ToolCall.Name), err)
		}
	}

	if s.set.Structured != nil && resp.ToolCall == nil {
		raw, err := s.set.Structured.OnResponse(resp.Finish)
		if err != nil {
			return nil, err
		}
		if raw != nil && s.decode != nil {
			if err := s.decode(raw); err != nil {
				return nil, retry.Recoverable("the structured output does not fit the result type", err)
			}
		}
		resp.Structured = raw
	}

	if resp.Message == "" && resp.ToolCall == nil && resp.Structured == nil && resp.Finish != model.FinishCancelled {
		return nil, retry.Recoverablef("the response is empty")
	}

	if s.exec.opts.DetectDuplicates && s.previous != nil {
		if err := s.duplicate(resp); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// duplicate rejects a response repeating the last assistant turn of the
// current exchange.
func (s *attemptState) duplicate(resp *Response) error {
	if prev, ok := s.previous.AsToolCall(); ok {
		if resp.ToolCall != nil && !prev.IsTextOnly() && prev.Equivalent(*resp.ToolCall) {
			return retry.Recoverable(fmt.Sprintf("tool %q was called again with the same arguments", resp.ToolCall.Name), ErrRepeatedOutput)
		}
		return nil
	}
	if resp.ToolCall == nil && resp.Message != "" && strings.TrimSpace(s.previous.Text()) == resp.Message {
		return retry.Recoverable("the answer is identical to the previous one", ErrRepeatedOutput)
	}
	return nil
}

// build assembles the current handler state without validating it.
func (s *attemptState) build() *Response {
	resp := &Response{Finish: s.set.Finish.OnResponse()}
	if s.set.Text != nil {
		resp.Message = s.set.Text.OnResponse()
	}
	if call := s.set.ToolCall.OnResponse(); call != nil {
		call.Message = resp.Message
		resp.ToolCall = call
		if resp.Finish == model.FinishStop {
			resp.Finish = model.FinishToolCall
		}
	}
	return resp
}

// response returns the accepted response, or the partial state of the last
// attempt when none was accepted.
func (s *attemptState) response() *Response {
	if s.candidate != nil {
		resp := *s.candidate
		return &resp
	}
	if s.set == nil {
		return &Response{Finish: model.FinishStop}
	}
	resp := s.build()
	if s.set.Structured != nil && resp.ToolCall == nil {
		resp.Message = strings.TrimSpace(s.set.Structured.Raw())
	}
	return resp
}

// account adds the usage of the current attempt once. Provider-reported
// usage calibrates the estimator; without it both directions are estimated
// from the serialized payloads. The input side is the encoded request, so
// tool definitions and the output format count as well.
func (s *attemptState) account() {
	if s.set == nil || s.accounted {
		return
	}
	s.accounted = true

	est := s.exec.opts.Estimator
	if u, ok := s.set.Usage.OnResponse(); ok {
		s.usage = s.usage.Add(u)
		est.RecordUsage(s.requestLength(), u.Input)
		return
	}

	s.estimated = true
	out := 0
	if s.set.Text != nil {
		out += len(s.set.Text.Raw())
	}
	if s.set.Structured != nil {
		out += len(s.set.Structured.Raw())
	}
	if call := s.set.ToolCall.OnResponse(); call != nil {
		out += len(call.Name) + len(call.Arguments)
	}
	s.usage = s.usage.Add(core.TokenUsage{
		Input:  est.CountChars(s.requestLength()),
		Output: est.CountChars(out),
	})
}

// requestLength returns the size of the request the current attempt sent.
func (s *attemptState) requestLength() int {
	data, err := model.EncodeRequest(s.req.WithConversation(s.conv))
	if err != nil {
		return budget.SerializedLength(s.conv)
	}
	return len(data)
}

// finishAttempt accounts and closes the span of the running attempt.
func (s *attemptState) finishAttempt(err error) {
	if s.span == nil {
		return
	}
	s.account()
	if s.candidate != nil {
		s.span.SetAttributes(attribute.String("finish_reason", string(s.candidate.Finish)))
		s.span.SetStatus(codes.Ok, "")
	} else if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
	s.span = nil
}

// Package retry runs streaming attempts against a model and re-attempts them
// with feedback when a recoverable failure is detected.
//
// The caller's conversation is never mutated. The policy clones it once into
// a private working copy, appends feedback there, and hands every attempt a
// fresh clone of that working copy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/logging"
	"github.com/hupe1980/agentpipe/model"
)

// Attempt starts one streaming attempt for conv. It follows the
// model.Model.Generate channel contract.
type Attempt func(ctx context.Context, conv *core.Conversation) (<-chan model.StreamChunk, <-chan error)

// AttemptHandler consumes the chunks of each attempt.
//
// Chunk may return ErrEarlyStop to end the attempt without failure, or a
// *RecoverableError to abandon it and retry. End is called once the stream
// of an attempt is done (exhausted or early-stopped); a *RecoverableError
// from End also triggers a retry.
type AttemptHandler interface {
	Begin(attempt int, conv *core.Conversation)
	Chunk(ctx context.Context, chunk model.StreamChunk) error
	End(ctx context.Context) error
}

// Options configures a Policy.
type Options struct {
	// MaxRetries bounds the number of re-attempts; at most MaxRetries+1
	// attempts run.
	MaxRetries int
	// AttemptTimeout bounds each attempt separately. Zero disables it.
	AttemptTimeout time.Duration
	// BaseDelay is the first backoff delay, doubled for each further retry.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Logger    logging.Logger
}

// Policy is a retry policy. It holds no per-run state and may be shared.
type Policy struct {
	opts Options
}

// Result describes a finished run.
type Result struct {
	Attempts int
	// Feedback lists the feedback messages appended to the working copy.
	Feedback []string
	// Conversation is the working copy including feedback.
	Conversation *core.Conversation
}

// NewPolicy creates a Policy. Defaults: 2 retries, 60s per attempt, 200ms
// base delay capped at 5s.
func NewPolicy(optFns ...func(o *Options)) *Policy {
	opts := Options{
		MaxRetries:     2,
		AttemptTimeout: 60 * time.Second,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Policy{opts: opts}
}

// MaxRetries returns the configured retry bound.
func (p *Policy) MaxRetries() int { return p.opts.MaxRetries }

// Run drives attempts until one succeeds, a non-recoverable error occurs,
// ctx is cancelled or retries are exhausted. Cancellation of ctx returns
// ctx.Err() immediately without further attempts.
func (p *Policy) Run(ctx context.Context, conv *core.Conversation, attempt Attempt, h AttemptHandler) (*Result, error) {
	if conv == nil {
		return nil, errors.New("retry: conversation is nil")
	}
	res := &Result{Conversation: conv.Clone()}

	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		attemptConv := res.Conversation.Clone()
		h.Begin(n+1, attemptConv)
		res.Attempts++

		err := p.runAttempt(ctx, attemptConv, attempt, h)
		if err == nil {
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}

		var rec *RecoverableError
		if !errors.As(err, &rec) {
			return res, err
		}
		if n >= p.opts.MaxRetries {
			p.opts.Logger.Warn("retry.exhausted", "attempts", res.Attempts, "error", rec.Error())
			return res, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, res.Attempts, rec)
		}

		feedback := rec.Feedback()
		res.Conversation.Append(core.AssistantChat(feedback))
		res.Feedback = append(res.Feedback, feedback)

		delay := p.backoff(n)
		p.opts.Logger.Warn("retry.backoff", "attempt", res.Attempts, "delay", delay, "reason", rec.Error())
		if err := sleep(ctx, delay); err != nil {
			return res, err
		}
	}
}

func (p *Policy) runAttempt(ctx context.Context, conv *core.Conversation, attempt Attempt, h AttemptHandler) error {
	var (
		actx   context.Context
		cancel context.CancelFunc
	)
	if p.opts.AttemptTimeout > 0 {
		actx, cancel = context.WithTimeout(ctx, p.opts.AttemptTimeout)
	} else {
		actx, cancel = context.WithCancel(ctx)
	}
	// Cancelling abandons the provider stream of this attempt.
	defer cancel()

	chunks, errs := attempt(actx, conv)

stream:
	for chunks != nil || errs != nil {
		select {
		case ch, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if err := h.Chunk(actx, ch); err != nil {
				if errors.Is(err, ErrEarlyStop) {
					p.opts.Logger.Debug("retry.early_stop", "chunk", ch.Kind.String())
					break stream
				}
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return p.streamFailure(ctx, actx, err)
			}
		case <-actx.Done():
			return p.streamFailure(ctx, actx, actx.Err())
		}
	}

	return h.End(actx)
}

// streamFailure classifies a transport failure. Attempt timeouts and
// provider errors are recoverable; parent cancellation is not.
func (p *Policy) streamFailure(parent, actx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(actx.Err(), context.DeadlineExceeded) {
		return Recoverable(fmt.Sprintf("attempt timed out after %s", p.opts.AttemptTimeout), context.DeadlineExceeded)
	}
	if IsRecoverable(err) {
		return err
	}
	return Recoverable("stream failed", err)
}

func (p *Policy) backoff(n int) time.Duration {
	d := p.opts.BaseDelay
	if d <= 0 {
		return 0
	}
	for i := 0; i < n; i++ {
		if d > math.MaxInt64/2 {
			break
		}
		d *= 2
		if p.opts.MaxDelay > 0 && d >= p.opts.MaxDelay {
			break
		}
	}
	if p.opts.MaxDelay > 0 && d > p.opts.MaxDelay {
		d = p.opts.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

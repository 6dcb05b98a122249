package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder is an AttemptHandler built from optional callbacks.
type recorder struct {
	convs   []*core.Conversation
	chunks  [][]model.StreamChunk
	onChunk func(model.StreamChunk) error
	onEnd   func() error
}

func (r *recorder) Begin(_ int, conv *core.Conversation) {
	r.convs = append(r.convs, conv)
	r.chunks = append(r.chunks, nil)
}

func (r *recorder) Chunk(_ context.Context, ch model.StreamChunk) error {
	r.chunks[len(r.chunks)-1] = append(r.chunks[len(r.chunks)-1], ch)
	if r.onChunk != nil {
		return r.onChunk(ch)
	}
	return nil
}

func (r *recorder) End(context.Context) error {
	if r.onEnd != nil {
		return r.onEnd()
	}
	return nil
}

func attemptFor(m *model.ScriptedModel) Attempt {
	return func(ctx context.Context, conv *core.Conversation) (<-chan model.StreamChunk, <-chan error) {
		return m.Generate(ctx, model.Request{Conversation: conv})
	}
}

func fastPolicy(maxRetries int) *Policy {
	return NewPolicy(func(o *Options) {
		o.MaxRetries = maxRetries
		o.BaseDelay = time.Millisecond
		o.MaxDelay = 2 * time.Millisecond
	})
}

func TestRunSucceedsFirstAttempt(t *testing.T) {
	m := model.NewScriptedModel(model.TextScript("hel", "lo"))
	h := &recorder{}
	conv := core.NewConversation(core.UserChat("hi"))

	res, err := fastPolicy(2).Run(context.Background(), conv, attemptFor(m), h)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, res.Feedback)
	assert.Len(t, h.chunks[0], 3, "chunks are passed through as they arrive")
	assert.NotSame(t, conv, h.convs[0])
}

func TestRunRecoverableExhaustsRetries(t *testing.T) {
	m := model.NewScriptedModel(model.TextScript("bad"))
	h := &recorder{onEnd: func() error { return Recoverablef("tool X.Sum is unknown") }}
	conv := core.NewConversation(core.UserChat("hi"))

	res, err := fastPolicy(1).Run(context.Background(), conv, attemptFor(m), h)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.True(t, IsRecoverable(err))

	assert.Equal(t, 2, m.Calls())
	assert.Equal(t, 2, res.Attempts)
	require.Len(t, res.Feedback, 1)
	assert.Contains(t, res.Feedback[0], "tool X.Sum is unknown")

	// The caller's conversation is untouched; the working copy got the feedback.
	assert.Equal(t, 1, conv.Len())
	assert.Equal(t, 2, res.Conversation.Len())
	assert.Equal(t, 1, h.convs[0].Len())
	require.Equal(t, 2, h.convs[1].Len())
	last, _ := h.convs[1].Last()
	assert.Equal(t, core.RoleAssistant, last.Role)
	assert.Equal(t, res.Feedback[0], last.Text())
}

func TestRunRecoversOnSecondAttempt(t *testing.T) {
	m := model.NewScriptedModel(model.TextScript("bad"), model.TextScript("good"))
	h := &recorder{}
	h.onChunk = func(ch model.StreamChunk) error {
		if ch.Kind == model.ChunkText && ch.Text == "bad" {
			return Recoverablef("duplicate output")
		}
		return nil
	}

	res, err := fastPolicy(3).Run(context.Background(), core.NewConversation(core.UserChat("hi")), attemptFor(m), h)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, res.Feedback, 1)
	assert.Len(t, h.chunks[0], 1, "forwarding stops at the recoverable failure")
}

func TestRunEarlyStopEndsAttempt(t *testing.T) {
	m := model.NewScriptedModel(model.Script{
		Chunks: []model.StreamChunk{model.TextChunk("a"), model.TextChunk("b"), model.TextChunk("c")},
		Block:  true,
	})
	ended := false
	h := &recorder{
		onChunk: func(ch model.StreamChunk) error {
			if ch.Text == "b" {
				return ErrEarlyStop
			}
			return nil
		},
		onEnd: func() error { ended = true; return nil },
	}

	res, err := fastPolicy(1).Run(context.Background(), core.NewConversation(), attemptFor(m), h)
	require.NoError(t, err)
	assert.True(t, ended)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, h.chunks[0], 2)
}

func TestRunAttemptTimeoutIsRecoverable(t *testing.T) {
	m := model.NewScriptedModel(model.Script{Block: true})
	p := NewPolicy(func(o *Options) {
		o.MaxRetries = 1
		o.AttemptTimeout = 20 * time.Millisecond
		o.BaseDelay = time.Millisecond
	})

	res, err := p.Run(context.Background(), core.NewConversation(), attemptFor(m), &recorder{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 2, res.Attempts)
}

func TestRunStreamErrorIsRetried(t *testing.T) {
	m := model.NewScriptedModel(
		model.Script{Chunks: []model.StreamChunk{model.TextChunk("x")}, Err: errors.New("connection reset")},
		model.TextScript("ok"),
	)

	res, err := fastPolicy(1).Run(context.Background(), core.NewConversation(), attemptFor(m), &recorder{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	require.Len(t, res.Feedback, 1)
	assert.Contains(t, res.Feedback[0], "connection reset")
}

func TestRunNonRecoverableErrorStops(t *testing.T) {
	m := model.NewScriptedModel(model.TextScript("x"))
	boom := errors.New("handler bug")
	h := &recorder{onEnd: func() error { return boom }}

	res, err := fastPolicy(3).Run(context.Background(), core.NewConversation(), attemptFor(m), h)
	assert.Same(t, boom, err)
	assert.Equal(t, 1, res.Attempts)
}

func TestRunCancellationAbortsImmediately(t *testing.T) {
	m := model.NewScriptedModel(model.TextScript("x"))
	ctx, cancel := context.WithCancel(context.Background())
	h := &recorder{onEnd: func() error {
		cancel()
		return Recoverablef("retry me")
	}}
	p := NewPolicy(func(o *Options) {
		o.MaxRetries = 5
		o.BaseDelay = time.Hour
	})

	res, err := p.Run(ctx, core.NewConversation(), attemptFor(m), h)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, m.Calls())
}

func TestRunCancelledDuringBackoff(t *testing.T) {
	m := model.NewScriptedModel(model.TextScript("x"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := &recorder{onEnd: func() error { return Recoverablef("retry me") }}
	p := NewPolicy(func(o *Options) {
		o.MaxRetries = 5
		o.BaseDelay = time.Hour
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, err := p.Run(ctx, core.NewConversation(), attemptFor(m), h)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), time.Minute)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, res.Feedback, 1)
}

func TestBackoff(t *testing.T) {
	p := NewPolicy(func(o *Options) {
		o.BaseDelay = 100 * time.Millisecond
		o.MaxDelay = 250 * time.Millisecond
	})
	assert.Equal(t, 100*time.Millisecond, p.backoff(0))
	assert.Equal(t, 200*time.Millisecond, p.backoff(1))
	assert.Equal(t, 250*time.Millisecond, p.backoff(2))
	assert.Equal(t, 250*time.Millisecond, p.backoff(40))
}

func TestRecoverableError(t *testing.T) {
	cause := errors.New("cause")
	err := Recoverable("bad tool", cause)
	assert.Equal(t, "bad tool: cause", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Feedback(), "bad tool: cause")
	assert.False(t, IsRecoverable(cause))
}

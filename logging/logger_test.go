package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(level LogLevel) (*PipelineLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: level, Format: "json", Output: &buf})
	return l, &buf
}

func entries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"debug": LogLevelDebug, "": LogLevelInfo, "INFO": LogLevelInfo,
		"warning": LogLevelWarn, " error ": LogLevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, "WARN", LogLevelWarn.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newTestLogger(LogLevelWarn)
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	got := entries(t, buf)
	require.Len(t, got, 2)
	assert.Equal(t, "w", got[0]["msg"])
	assert.Equal(t, "e", got[1]["msg"])
}

func TestContextualAttributes(t *testing.T) {
	base, buf := newTestLogger(LogLevelDebug)
	l := base.With("provider", "openai").WithComponent("pipeline").WithSession("s1")
	l.Info("pipeline.call", "attempt", 2, "dangling")

	got := entries(t, buf)
	require.Len(t, got, 1)
	e := got[0]
	assert.Equal(t, "openai", e["provider"])
	assert.Equal(t, "pipeline", e["component"])
	assert.Equal(t, "s1", e["session_id"])
	assert.EqualValues(t, 2, e["attempt"])
	assert.Equal(t, "dangling", e["!BADKEY"])

	// The base logger is not modified by With*.
	buf.Reset()
	base.Info("plain")
	e = entries(t, buf)[0]
	assert.NotContains(t, e, "component")
	assert.NotContains(t, e, "provider")
}

func TestDomainHelpers(t *testing.T) {
	l, buf := newTestLogger(LogLevelDebug)
	l.LogToolCall("Math.Add", time.Millisecond, nil)
	l.LogToolCall("Math.Div", time.Millisecond, errors.New("division by zero"))
	l.LogLLMCall("gpt", 42, time.Second, nil)
	l.LogAttempt(1, time.Millisecond, "the response is empty")
	l.LogAttempt(2, time.Millisecond, "")
	l.StartTimer("op")()

	got := entries(t, buf)
	require.Len(t, got, 6)
	assert.Equal(t, "tool.invoke.done", got[0]["msg"])
	assert.Equal(t, "tool.invoke.error", got[1]["msg"])
	assert.Equal(t, "division by zero", got[1]["error"])
	assert.Equal(t, "llm.call.done", got[2]["msg"])
	assert.EqualValues(t, 42, got[2]["token_count"])
	assert.Equal(t, "pipeline.attempt.retry", got[3]["msg"])
	assert.Equal(t, "WARN", got[3]["level"])
	assert.Equal(t, "pipeline.attempt.done", got[4]["msg"])
	assert.Equal(t, "operation.done", got[5]["msg"])
	assert.Equal(t, "op", got[5]["operation"])
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "text", Output: &buf})
	l.Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "k=v")
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	l.Debug("memory.save", "session_id", "s1")
	got := entries(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0]["session_id"])
}

func TestNoOpLogger(t *testing.T) {
	var l Logger = NoOpLogger{}
	assert.NotPanics(t, func() {
		l.Debug("x")
		l.Info("x")
		l.Warn("x")
		l.Error("x")
	})
}

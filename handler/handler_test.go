package handler

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/internal/util"
	"github.com/hupe1980/agentpipe/model"
	"github.com/hupe1980/agentpipe/retry"
	"github.com/hupe1980/agentpipe/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newParser(t *testing.T) *tool.Parser {
	t.Helper()
	c := tool.NewCatalog()
	require.NoError(t, c.RegisterAll(
		tool.Definition{Method: "Add", Fn: func(x int) int { return x + 1 }, Params: []tool.ParamSpec{tool.Param("x", "")}},
		tool.Definition{Scope: "X", Method: "Sum", Fn: func(a, b int) int { return a + b },
			Params: []tool.ParamSpec{tool.Param("a", ""), tool.Param("b", "")}},
		tool.Definition{Scope: "X", Method: "Now", Fn: func() string { return "now" }},
	))
	return tool.NewParser(c)
}

func newTextSet(t *testing.T) *Set {
	s := NewSet(model.OutputText, newParser(t), nil)
	s.OnRequest(model.Request{})
	return s
}

func TestTextHandlerPlainText(t *testing.T) {
	s := newTextSet(t)
	for _, f := range []string{"  Hello", " {not json}", " world  "} {
		require.NoError(t, s.Dispatch(model.TextChunk(f)))
	}
	assert.Equal(t, "Hello {not json} world", s.Text.OnResponse())
	assert.False(t, s.Text.FoundInline())
	assert.Nil(t, s.ToolCall.OnResponse())
}

func TestTextHandlerInlineCallEarlyStops(t *testing.T) {
	s := newTextSet(t)

	require.NoError(t, s.Dispatch(model.TextChunk(`Let me add. {"name":"X.Sum",`)))
	require.NoError(t, s.Dispatch(model.TextChunk(`"arguments":{"a":1,`)))
	err := s.Dispatch(model.TextChunk(`"b":2}} and then some`))
	assert.True(t, errors.Is(err, retry.ErrEarlyStop))

	assert.True(t, s.Text.FoundInline())
	assert.Equal(t, "Let me add.", s.Text.OnResponse())

	call := s.ToolCall.OnResponse()
	require.NotNil(t, call)
	assert.Equal(t, "X.Sum", call.Name)
	assert.JSONEq(t, `{"a":1,"b":2}`, string(call.Arguments))

	// Anything after the early stop is ignored.
	assert.True(t, errors.Is(s.Dispatch(model.TextChunk("more")), retry.ErrEarlyStop))
	assert.Equal(t, "Let me add.", s.Text.OnResponse())
}

func TestToolCallDeltasMaterializeWhenComplete(t *testing.T) {
	s := newTextSet(t)

	require.NoError(t, s.Dispatch(model.DeltaChunk(0, "call_1", "Add", `{"x":`)))
	name, args, pending := s.ToolCall.Pending()
	assert.True(t, pending)
	assert.Equal(t, "Add", name)
	assert.Equal(t, `{"x":`, args)

	require.NoError(t, s.Dispatch(model.DeltaChunk(0, "", "", `1}`)))
	_, _, pending = s.ToolCall.Pending()
	assert.False(t, pending)

	call := s.ToolCall.OnResponse()
	require.NotNil(t, call)
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, "Add", call.Name)

	m, err := call.ArgumentsMap()
	require.NoError(t, err)
	assert.Equal(t, float64(1), m["x"])
}

func TestToolCallSecondDeltaGroupIgnored(t *testing.T) {
	s := newTextSet(t)

	require.NoError(t, s.Dispatch(model.DeltaChunk(0, "call_1", "Add", `{"x":1}`)))
	err := s.Dispatch(model.DeltaChunk(1, "call_2", "X.Sum", `{"a":1,"b":2}`))
	assert.True(t, errors.Is(err, retry.ErrEarlyStop))

	err = s.Dispatch(model.ToolCallChunk(core.ToolCall{ID: "call_3", Name: "X.Now"}))
	assert.True(t, errors.Is(err, retry.ErrEarlyStop))

	call := s.ToolCall.OnResponse()
	require.NotNil(t, call)
	assert.Equal(t, "Add", call.Name)
	assert.Equal(t, "call_1", call.ID)
}

func TestToolCallInterleavedGroupBeforeCompletion(t *testing.T) {
	s := newTextSet(t)

	require.NoError(t, s.Dispatch(model.DeltaChunk(0, "call_1", "Add", `{"x"`)))
	// A different slot before the first completes is ignored without stopping.
	require.NoError(t, s.Dispatch(model.DeltaChunk(1, "call_2", "X.Sum", `{}`)))
	require.NoError(t, s.Dispatch(model.DeltaChunk(0, "", "", `:5}`)))

	call := s.ToolCall.OnResponse()
	require.NotNil(t, call)
	assert.JSONEq(t, `{"x":5}`, string(call.Arguments))
}

func TestToolCallCompleteChunk(t *testing.T) {
	s := newTextSet(t)

	require.NoError(t, s.Dispatch(model.ToolCallChunk(core.ToolCall{Name: "X.Now"})))
	call := s.ToolCall.OnResponse()
	require.NotNil(t, call)
	assert.NotEmpty(t, call.ID)

	// A delta group after a complete call is a competing call.
	err := s.Dispatch(model.DeltaChunk(0, "call_9", "Add", `{"x":1}`))
	assert.True(t, errors.Is(err, retry.ErrEarlyStop))
}

func TestToolCallNameWithoutArguments(t *testing.T) {
	s := newTextSet(t)

	require.NoError(t, s.Dispatch(model.DeltaChunk(0, "call_1", "X.Now", "")))
	call := s.ToolCall.OnResponse()
	require.NotNil(t, call)
	assert.Equal(t, `{}`, string(call.Arguments))
}

func TestInlineCallAfterNativeCallKeepsNative(t *testing.T) {
	s := newTextSet(t)

	require.NoError(t, s.Dispatch(model.DeltaChunk(0, "call_1", "Add", `{"x":1}`)))
	err := s.Dispatch(model.TextChunk(`{"name":"X.Sum","arguments":{"a":1,"b":2}}`))
	assert.True(t, errors.Is(err, retry.ErrEarlyStop))
	assert.Equal(t, "Add", s.ToolCall.OnResponse().Name)
}

func TestFinishAndUsageHandlers(t *testing.T) {
	s := newTextSet(t)
	assert.Equal(t, model.FinishStop, s.Finish.OnResponse())
	_, ok := s.Usage.OnResponse()
	assert.False(t, ok)

	require.NoError(t, s.Dispatch(model.UsageChunk(10, 2)))
	require.NoError(t, s.Dispatch(model.UsageChunk(12, 5)))
	require.NoError(t, s.Dispatch(model.FinishChunk(model.FinishToolCall)))

	usage, ok := s.Usage.OnResponse()
	assert.True(t, ok)
	assert.Equal(t, core.TokenUsage{Input: 12, Output: 5}, usage)
	assert.Equal(t, model.FinishToolCall, s.Finish.OnResponse())

	s.OnRequest(model.Request{})
	assert.Equal(t, model.FinishStop, s.Finish.OnResponse())
}

type weather struct {
	City string  `json:"city"`
	Temp float64 `json:"temp"`
}

func newStructuredSet(t *testing.T) *Set {
	t.Helper()
	schema, err := util.SchemaFor(weather{})
	require.NoError(t, err)
	compiled, err := util.CompileSchema(schema)
	require.NoError(t, err)
	s := NewSet(model.OutputStructured, nil, compiled)
	s.OnRequest(model.Request{})
	return s
}

func TestStructuredHandler(t *testing.T) {
	tests := []struct {
		name    string
		chunks  []model.StreamChunk
		finish  model.FinishReason
		want    string
		wantErr bool
	}{
		{"valid", []model.StreamChunk{model.JSONChunk(`{"city":"Berlin",`), model.JSONChunk(` "temp": 21.5}`)}, model.FinishStop, `{"city":"Berlin","temp":21.5}`, false},
		{"text chunks and fence", []model.StreamChunk{model.TextChunk("```json\n{\"city\":\"Oslo\",\"temp\":3}\n```")}, model.FinishStop, `{"city":"Oslo","temp":3}`, false},
		{"empty", nil, model.FinishStop, "", true},
		{"malformed", []model.StreamChunk{model.JSONChunk(`{"city":`)}, model.FinishStop, "", true},
		{"schema mismatch", []model.StreamChunk{model.JSONChunk(`{"city":42,"temp":1}`)}, model.FinishStop, "", true},
		{"cancelled", []model.StreamChunk{model.JSONChunk(`{"city":`)}, model.FinishCancelled, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStructuredSet(t)
			assert.Nil(t, s.Text)
			for _, ch := range tt.chunks {
				require.NoError(t, s.Dispatch(ch))
			}
			raw, err := s.Structured.OnResponse(tt.finish)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, retry.IsRecoverable(err))
				return
			}
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, raw)
				return
			}
			assert.JSONEq(t, tt.want, string(raw))
			var w weather
			require.NoError(t, json.Unmarshal(raw, &w))
		})
	}
}

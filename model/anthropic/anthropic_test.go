package anthropic

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/model"
)

func TestBuildMessages(t *testing.T) {
	call := core.ToolCall{ID: "c1", Name: "Math.Add", Arguments: json.RawMessage(`{"x":1}`), Message: "adding"}
	conv := core.NewConversation(
		core.SystemChat("sys"),
		core.UserChat("hi"),
		core.ToolCallChat(call),
		core.ToolResultChat(core.NewToolFailure(call, errors.New("boom"))),
		core.AssistantChat(""),
		core.AssistantChat("done"),
	)

	msgs := buildMessages(conv, nil)
	require.Len(t, msgs, 4)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)

	assistant := msgs[1]
	assert.Equal(t, anthropic.MessageParamRoleAssistant, assistant.Role)
	require.Len(t, assistant.Content, 2)
	require.NotNil(t, assistant.Content[0].OfText)
	assert.Equal(t, "adding", assistant.Content[0].OfText.Text)
	require.NotNil(t, assistant.Content[1].OfToolUse)
	assert.Equal(t, "Math__Add", assistant.Content[1].OfToolUse.Name)
	assert.Equal(t, map[string]any{"x": float64(1)}, assistant.Content[1].OfToolUse.Input)

	result := msgs[2]
	assert.Equal(t, anthropic.MessageParamRoleUser, result.Role)
	require.NotNil(t, result.Content[0].OfToolResult)
	assert.Equal(t, "c1", result.Content[0].OfToolResult.ToolUseID)

	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[3].Role)
	assert.Nil(t, buildMessages(nil, nil))
}

func TestExtractSystem(t *testing.T) {
	conv := core.NewConversation(core.SystemChat("a"), core.UserChat("x"), core.SystemChat(""), core.SystemChat("b"))
	blocks := extractSystem(conv)
	require.Len(t, blocks, 2)
	assert.Equal(t, "a", blocks[0].Text)
	assert.Equal(t, "b", blocks[1].Text)
}

func TestBuildParams(t *testing.T) {
	m := NewModelFromClient(nil, func(o *Options) { o.MaxTokens = 100 })

	maxTokens := 50
	params := m.buildParams(model.Request{
		Model:        "claude-override",
		Conversation: core.NewConversation(core.SystemChat("sys"), core.UserChat("hi")),
		MaxTokens:    &maxTokens,
		Stop:         []string{"END"},
	})
	assert.Equal(t, anthropic.Model("claude-override"), params.Model)
	assert.Equal(t, int64(50), params.MaxTokens)
	assert.Equal(t, []string{"END"}, params.StopSequences)
	require.Len(t, params.System, 1)
	assert.Len(t, params.Messages, 1)

	assert.Nil(t, params.ToolChoice.OfAuto)
	assert.Nil(t, params.ToolChoice.OfTool)

	params = m.buildParams(model.Request{})
	assert.Equal(t, int64(100), params.MaxTokens)
	assert.Empty(t, params.System)
}

func TestBuildParamsToolChoice(t *testing.T) {
	m := NewModelFromClient(nil)
	tools := []model.ToolDefinition{model.NewToolDefinition("Math.Add", "adds", nil)}

	params := m.buildParams(model.Request{Tools: tools, ToolChoice: "required"})
	assert.NotNil(t, params.ToolChoice.OfAny)

	params = m.buildParams(model.Request{Tools: tools, ToolChoice: "none"})
	assert.NotNil(t, params.ToolChoice.OfNone)

	params = m.buildParams(model.Request{Tools: tools, ToolChoice: "auto"})
	assert.NotNil(t, params.ToolChoice.OfAuto)

	params = m.buildParams(model.Request{Tools: tools, ToolChoice: "Math.Add"})
	require.NotNil(t, params.ToolChoice.OfTool)
	assert.Equal(t, "Math__Add", params.ToolChoice.OfTool.Name)
	assert.Equal(t, "Math__Add", params.Tools[0].OfTool.Name)

	params = m.buildParams(model.Request{Tools: tools})
	assert.Nil(t, params.ToolChoice.OfAuto)
	assert.Nil(t, params.ToolChoice.OfAny)
}

func TestBuildTools(t *testing.T) {
	tools := buildTools([]model.ToolDefinition{
		model.NewToolDefinition("Math.Add", "adds", map[string]any{
			"type":       "object",
			"properties": map[string]any{"a": map[string]any{"type": "number"}},
			"required":   []any{"a"},
		}),
		model.NewToolDefinition("Clock.Now", "", nil),
	}, nil)
	require.Len(t, tools, 2)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "Math__Add", tools[0].OfTool.Name)
	assert.Equal(t, []string{"a"}, tools[0].OfTool.InputSchema.Required)
	assert.Equal(t, "adds", tools[0].OfTool.Description.Value)
	assert.Empty(t, tools[1].OfTool.InputSchema.Required)
}

func TestFinishReason(t *testing.T) {
	assert.Equal(t, model.FinishToolCall, finishReason(anthropic.StopReasonToolUse))
	assert.Equal(t, model.FinishStop, finishReason(anthropic.StopReasonEndTurn))
	assert.Equal(t, model.FinishStop, finishReason(anthropic.StopReasonMaxTokens))
}

func TestInfo(t *testing.T) {
	info := NewModelFromClient(nil, func(o *Options) { o.Model = "claude-x" }).Info()
	assert.Equal(t, "claude-x", info.Name)
	assert.Equal(t, "anthropic", info.Provider)
}

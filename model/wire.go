package model

import (
	"encoding/json"
	"strings"

	"github.com/hupe1980/agentpipe/core"
)

// wireRequest is the chat-completions request body.
type wireRequest struct {
	Model       string             `json:"model"`
	Messages    *core.Conversation `json:"messages"`
	Tools       []ToolDefinition   `json:"tools,omitempty"`
	ToolChoice  any                `json:"tool_choice,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	MaxTokens   *int               `json:"max_tokens,omitempty"`
	Seed        *int64             `json:"seed,omitempty"`
	Stop        []string           `json:"stop,omitempty"`
	Format      *wireFormat        `json:"response_format,omitempty"`
	Stream      bool               `json:"stream"`
}

type wireFormat struct {
	Type       string         `json:"type"`
	JSONSchema map[string]any `json:"json_schema,omitempty"`
}

// ToolChoiceKeyword reports whether choice is one of auto, none or required
// and returns it lower-cased.
func ToolChoiceKeyword(choice string) (string, bool) {
	switch kw := strings.ToLower(choice); kw {
	case "auto", "none", "required":
		return kw, true
	}
	return "", false
}

// ToolChoiceParam converts a ToolChoice string into its wire value: the
// keywords auto/none/required stay strings, anything else names a function.
func ToolChoiceParam(choice string) any {
	if choice == "" {
		return nil
	}
	if kw, ok := ToolChoiceKeyword(choice); ok {
		return kw
	}
	return map[string]any{
		"type":     "function",
		"function": map[string]any{"name": choice},
	}
}

// EncodeRequest serializes a request in the outbound JSON wire shape with
// tool names in their provider form. The pipeline estimates request token
// counts from its length.
func EncodeRequest(req Request) ([]byte, error) {
	conv := req.Conversation
	if conv == nil {
		conv = core.NewConversation()
	}
	names := NewToolNames(req.Tools)
	var tools []ToolDefinition
	if len(req.Tools) > 0 {
		tools = make([]ToolDefinition, len(req.Tools))
		for i, t := range req.Tools {
			t.Function.Name = names.Wire(t.Function.Name)
			tools[i] = t
		}
	}
	choice := req.ToolChoice
	if _, ok := ToolChoiceKeyword(choice); !ok && choice != "" {
		choice = names.Wire(choice)
	}
	w := wireRequest{
		Model:       req.Model,
		Messages:    conv,
		Tools:       tools,
		ToolChoice:  ToolChoiceParam(choice),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Seed:        req.Seed,
		Stop:        req.Stop,
		Stream:      true,
	}
	if req.Output == OutputStructured {
		w.Format = &wireFormat{Type: "json_object"}
		if req.ResultSchema != nil {
			w.Format = &wireFormat{Type: "json_schema", JSONSchema: map[string]any{
				"name":   "result",
				"schema": req.ResultSchema,
			}}
		}
	}
	return json.Marshal(w)
}

// NewToolDefinition builds a function tool definition.
func NewToolDefinition(name, description string, parameters map[string]any) ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

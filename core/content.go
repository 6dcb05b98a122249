package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the author of a chat entry. Values match the lowercase wire names.
type Role string

const (
	// RoleSystem marks instructions that frame the whole conversation.
	RoleSystem Role = "system"
	// RoleUser marks end-user input.
	RoleUser Role = "user"
	// RoleAssistant marks model output (text or a tool call).
	RoleAssistant Role = "assistant"
	// RoleTool marks the result of a tool invocation.
	RoleTool Role = "tool"
)

// ParseRole converts a (case-insensitive) role name into a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Content is the closed set of payloads a Chat can carry. Concrete content
// types implement the unexported isContent marker.
type Content interface{ isContent() }

// TextContent is plain UTF-8 text.
type TextContent struct {
	Text string
}

func (TextContent) isContent() {}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          // Provider or locally generated identifier
	Name      string          // Catalog tool name (matched case-insensitively)
	Arguments json.RawMessage // Raw JSON object as produced by the model
	// Parameters holds the positionally bound, type-checked arguments.
	// Nil until the call has been validated against the catalog.
	Parameters []any
	// Message is assistant text emitted before the call (inline calls) or
	// alongside it. A call with an empty Name and a non-empty Message is a
	// plain text answer.
	Message string
}

func (ToolCall) isContent() {}

// Clone returns a copy that shares no mutable state with c.
func (c ToolCall) Clone() ToolCall {
	out := c
	if c.Arguments != nil {
		out.Arguments = append(json.RawMessage(nil), c.Arguments...)
	}
	if c.Parameters != nil {
		out.Parameters = append([]any(nil), c.Parameters...)
	}
	return out
}

// IsTextOnly reports whether the call carries only an assistant message.
func (c ToolCall) IsTextOnly() bool {
	return c.Name == "" && c.Message != ""
}

// IsValidated reports whether Parameters have been bound.
func (c ToolCall) IsValidated() bool { return c.Parameters != nil }

// ArgumentsMap decodes Arguments into a map. Empty arguments decode to an empty map.
func (c ToolCall) ArgumentsMap() (map[string]any, error) {
	out := map[string]any{}
	if len(bytes.TrimSpace(c.Arguments)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(c.Arguments, &out); err != nil {
		return nil, fmt.Errorf("decode arguments of %s: %w", c.Name, err)
	}
	return out, nil
}

// Equivalent reports whether two calls target the same tool with the same
// arguments. Argument key order is irrelevant.
func (c ToolCall) Equivalent(other ToolCall) bool {
	if !strings.EqualFold(c.Name, other.Name) {
		return false
	}
	a, errA := NormalizeArguments(c.Arguments)
	b, errB := NormalizeArguments(other.Arguments)
	if errA != nil || errB != nil {
		return bytes.Equal(bytes.TrimSpace(c.Arguments), bytes.TrimSpace(other.Arguments))
	}
	return a == b
}

// NormalizeArguments re-encodes a JSON value with object keys sorted so that
// textual comparison ignores key order. Empty input normalizes to "{}".
func NormalizeArguments(raw json.RawMessage) (string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "{}", nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	b, err := json.Marshal(v) // map keys are emitted in sorted order
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToolCallResult pairs a call with either its result or its execution failure.
type ToolCallResult struct {
	Call   ToolCall
	Result any   // Set on success (may be nil for tools without a return value)
	Err    error // Set on failure; never together with Result
}

func (ToolCallResult) isContent() {}

// NewToolResult wraps a successful invocation.
func NewToolResult(call ToolCall, result any) ToolCallResult {
	return ToolCallResult{Call: call, Result: result}
}

// NewToolFailure wraps a failed invocation.
func NewToolFailure(call ToolCall, err error) ToolCallResult {
	return ToolCallResult{Call: call, Err: err}
}

// Failed reports whether the invocation failed.
func (r ToolCallResult) Failed() bool { return r.Err != nil }

// Text renders the result (or error) the way it is sent back to the model.
func (r ToolCallResult) Text() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	switch v := r.Result.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.RawMessage:
		return string(v)
	case []byte:
		return string(v)
	}
	b, err := json.Marshal(r.Result)
	if err != nil {
		return fmt.Sprintf("%v", r.Result)
	}
	return string(b)
}

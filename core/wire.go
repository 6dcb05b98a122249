package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

// wireMessage is the chat-completions message shape used both for outbound
// requests and for persisted conversations.
type wireMessage struct {
	Role       Role           `json:"role"`
	Content    *string        `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func strPtr(s string) *string { return &s }

func toWire(c Chat) (wireMessage, error) {
	switch v := c.Content.(type) {
	case TextContent:
		return wireMessage{Role: c.Role, Content: strPtr(v.Text)}, nil
	case ToolCall:
		args := string(v.Arguments)
		if args == "" {
			args = "{}"
		}
		msg := wireMessage{
			Role: c.Role,
			ToolCalls: []wireToolCall{{
				ID:       v.ID,
				Type:     "function",
				Function: wireToolFunction{Name: v.Name, Arguments: args},
			}},
		}
		if v.Message != "" {
			msg.Content = strPtr(v.Message)
		}
		if v.Name == "" { // text-only assistant message
			msg.ToolCalls = nil
			msg.Content = strPtr(v.Message)
		}
		return msg, nil
	case ToolCallResult:
		return wireMessage{
			Role:       c.Role,
			Content:    strPtr(v.Text()),
			ToolCallID: v.Call.ID,
			IsError:    v.Err != nil,
		}, nil
	case nil:
		return wireMessage{}, errors.New("chat content is nil")
	}
	return wireMessage{}, fmt.Errorf("unsupported chat content %T", c.Content)
}

// MarshalJSON encodes a single chat in the wire message shape.
func (c Chat) MarshalJSON() ([]byte, error) {
	w, err := toWire(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// MarshalJSON encodes the conversation as a JSON array of wire messages.
func (c *Conversation) MarshalJSON() ([]byte, error) {
	msgs := make([]wireMessage, 0, len(c.chats))
	for i, ch := range c.chats {
		w, err := toWire(ch)
		if err != nil {
			return nil, fmt.Errorf("chat %d: %w", i, err)
		}
		msgs = append(msgs, w)
	}
	return json.Marshal(msgs)
}

// UnmarshalJSON decodes a JSON array of wire messages. Tool results are
// re-associated with the preceding assistant tool call carrying the same id.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var msgs []wireMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return err
	}
	calls := map[string]ToolCall{}
	chats := make([]Chat, 0, len(msgs))
	for i, m := range msgs {
		role, err := ParseRole(string(m.Role))
		if err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		text := ""
		if m.Content != nil {
			text = *m.Content
		}
		switch {
		case role == RoleAssistant && len(m.ToolCalls) > 0:
			tc := m.ToolCalls[0]
			call := ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
				Message:   text,
			}
			calls[call.ID] = call
			chats = append(chats, ToolCallChat(call))
		case role == RoleTool:
			call, ok := calls[m.ToolCallID]
			if !ok {
				call = ToolCall{ID: m.ToolCallID}
			}
			res := NewToolResult(call, text)
			if m.IsError {
				res = NewToolFailure(call, errors.New(text))
			}
			chats = append(chats, ToolResultChat(res))
		default:
			chats = append(chats, Chat{Role: role, Content: TextContent{Text: text}})
		}
	}
	c.chats = chats
	return nil
}

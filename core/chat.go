package core

import (
	"errors"
	"fmt"
)

// Chat is a single conversation entry.
type Chat struct {
	Role    Role
	Content Content
}

// SystemChat creates a system instruction entry.
func SystemChat(text string) Chat {
	return Chat{Role: RoleSystem, Content: TextContent{Text: text}}
}

// UserChat creates a user text entry.
func UserChat(text string) Chat {
	return Chat{Role: RoleUser, Content: TextContent{Text: text}}
}

// AssistantChat creates an assistant text entry.
func AssistantChat(text string) Chat {
	return Chat{Role: RoleAssistant, Content: TextContent{Text: text}}
}

// ToolCallChat creates an assistant entry carrying a tool call.
func ToolCallChat(call ToolCall) Chat {
	return Chat{Role: RoleAssistant, Content: call}
}

// ToolResultChat creates a tool entry carrying an invocation result.
func ToolResultChat(result ToolCallResult) Chat {
	return Chat{Role: RoleTool, Content: result}
}

// Text returns the text of a TextContent entry, the message of a tool call
// entry or the rendered result of a tool entry.
func (c Chat) Text() string {
	switch v := c.Content.(type) {
	case TextContent:
		return v.Text
	case ToolCall:
		return v.Message
	case ToolCallResult:
		return v.Text()
	}
	return ""
}

// AsToolCall returns the call carried by the entry, if any.
func (c Chat) AsToolCall() (*ToolCall, bool) {
	if v, ok := c.Content.(ToolCall); ok {
		return &v, true
	}
	return nil, false
}

// AsToolResult returns the result carried by the entry, if any.
func (c Chat) AsToolResult() (*ToolCallResult, bool) {
	if v, ok := c.Content.(ToolCallResult); ok {
		return &v, true
	}
	return nil, false
}

// Validate checks the role/content pairing: tool entries always carry a
// ToolCallResult and assistant entries carry text or a tool call.
func (c Chat) Validate() error {
	if c.Content == nil {
		return errors.New("chat content is nil")
	}
	switch c.Role {
	case RoleTool:
		if _, ok := c.Content.(ToolCallResult); !ok {
			return fmt.Errorf("tool chat must carry a tool call result, got %T", c.Content)
		}
	case RoleAssistant:
		switch c.Content.(type) {
		case TextContent, ToolCall:
		default:
			return fmt.Errorf("assistant chat must carry text or a tool call, got %T", c.Content)
		}
	case RoleSystem, RoleUser:
		if _, ok := c.Content.(TextContent); !ok {
			return fmt.Errorf("%s chat must carry text, got %T", c.Role, c.Content)
		}
	default:
		return fmt.Errorf("unknown role %q", c.Role)
	}
	return nil
}

func (c Chat) clone() Chat {
	switch v := c.Content.(type) {
	case ToolCall:
		return Chat{Role: c.Role, Content: v.Clone()}
	case ToolCallResult:
		v.Call = v.Call.Clone()
		return Chat{Role: c.Role, Content: v}
	}
	return c
}

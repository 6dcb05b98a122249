package testutil

import (
	"encoding/json"
	"errors"

	"github.com/hupe1980/agentpipe/core"
)

// ConversationBuilder provides a fluent helper for constructing conversations
// in tests. Example:
//
//	conv := NewConversationBuilder().System("be brief").User("hi").Assistant("hello").Build()
type ConversationBuilder struct {
	id    string
	chats []core.Chat
}

// NewConversationBuilder creates an empty builder.
func NewConversationBuilder() *ConversationBuilder { return &ConversationBuilder{} }

// ID overrides the generated conversation id (chainable).
func (b *ConversationBuilder) ID(id string) *ConversationBuilder { b.id = id; return b }

// System appends a system message (chainable).
func (b *ConversationBuilder) System(t string) *ConversationBuilder {
	b.chats = append(b.chats, core.SystemChat(t))
	return b
}

// User appends a user message (chainable).
func (b *ConversationBuilder) User(t string) *ConversationBuilder {
	b.chats = append(b.chats, core.UserChat(t))
	return b
}

// Assistant appends an assistant text message (chainable).
func (b *ConversationBuilder) Assistant(t string) *ConversationBuilder {
	b.chats = append(b.chats, core.AssistantChat(t))
	return b
}

// ToolCall appends an assistant tool call with the given JSON arguments (chainable).
func (b *ConversationBuilder) ToolCall(id, name, args string) *ConversationBuilder {
	b.chats = append(b.chats, core.ToolCallChat(core.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}))
	return b
}

// ToolResult appends the result of the call with the given id (chainable).
// A non-empty failure is recorded as an execution error.
func (b *ConversationBuilder) ToolResult(id, name string, result any, failure string) *ConversationBuilder {
	call := core.ToolCall{ID: id, Name: name}
	r := core.NewToolResult(call, result)
	if failure != "" {
		r = core.NewToolFailure(call, errors.New(failure))
	}
	b.chats = append(b.chats, core.ToolResultChat(r))
	return b
}

// Build constructs the conversation.
func (b *ConversationBuilder) Build() *core.Conversation {
	conv := core.NewConversation(b.chats...)
	if b.id != "" {
		conv.ID = b.id
	}
	return conv
}

package pipeline

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/internal/util"
	"github.com/hupe1980/agentpipe/model"
)

// RequestProcessor adjusts a request after trimming and before it is sent.
// Processors run in registration order; an error aborts Execute before any
// streaming starts.
type RequestProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessRequest modifies the request in place.
	ProcessRequest(ctx context.Context, req *model.Request) error
}

// InstructionsProcessor renders a system prompt template and places it at the
// head of the conversation, replacing a leading system message if present.
type InstructionsProcessor struct {
	instruction string
	state       func() map[string]any
}

// NewInstructionsProcessor creates a processor for the given template. state
// supplies the template data and may be nil.
func NewInstructionsProcessor(instruction string, state func() map[string]any) *InstructionsProcessor {
	return &InstructionsProcessor{instruction: instruction, state: state}
}

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest renders the instruction into req.Conversation.
func (p *InstructionsProcessor) ProcessRequest(_ context.Context, req *model.Request) error {
	if p.instruction == "" || req.Conversation == nil {
		return nil
	}
	var data map[string]any
	if p.state != nil {
		data = p.state()
	}
	text, err := util.RenderTemplate(p.instruction, data)
	if err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}

	chats := req.Conversation.Chats()
	if len(chats) > 0 && chats[0].Role == core.RoleSystem {
		chats = chats[1:]
	}
	out := core.NewConversation(core.SystemChat(text))
	out.ID = req.Conversation.ID
	out.Append(chats...)
	req.Conversation = out
	return nil
}

// ToolChoiceProcessor forces a fixed tool choice on every request that
// carries tools.
type ToolChoiceProcessor struct {
	choice string
}

// NewToolChoiceProcessor creates a processor setting choice ("auto", "none",
// "required" or a tool name).
func NewToolChoiceProcessor(choice string) *ToolChoiceProcessor {
	return &ToolChoiceProcessor{choice: choice}
}

// Name returns the processor's identifier.
func (p *ToolChoiceProcessor) Name() string { return "tool_choice" }

// ProcessRequest sets req.ToolChoice when tools are present.
func (p *ToolChoiceProcessor) ProcessRequest(_ context.Context, req *model.Request) error {
	if len(req.Tools) > 0 && req.ToolChoice == "" {
		req.ToolChoice = p.choice
	}
	return nil
}

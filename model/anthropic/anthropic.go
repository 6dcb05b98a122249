// Package anthropic provides a model wrapper for the Anthropic Messages
// streaming API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/model"
)

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// NewModel creates a new Anthropic model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model by streaming the Messages API.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.StreamChunk, <-chan error) {
	out := make(chan model.StreamChunk)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)
		names := model.NewToolNames(req.Tools)
		if err := m.stream(ctx, m.buildParams(req), names, out); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	names := model.NewToolNames(req.Tools)
	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    buildMessages(req.Conversation, names),
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}
	if req.Model != "" {
		params.Model = anthropic.Model(req.Model)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = int64(*req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}
	if systemBlocks := extractSystem(req.Conversation); len(systemBlocks) > 0 {
		params.System = systemBlocks
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools, names)
		params.ToolChoice = toolChoice(req.ToolChoice, names)
	}
	return params
}

// toolChoice maps a request tool choice onto the SDK union. "required"
// becomes "any"; an empty choice leaves the provider default.
func toolChoice(choice string, names *model.ToolNames) anthropic.ToolChoiceUnionParam {
	if choice == "" {
		return anthropic.ToolChoiceUnionParam{}
	}
	kw, ok := model.ToolChoiceKeyword(choice)
	if !ok {
		return anthropic.ToolChoiceParamOfTool(names.Wire(choice))
	}
	switch kw {
	case "none":
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	case "required":
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	default:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}
}

// stream maps Messages stream events onto model chunks. Tool-use content
// blocks become tool-call deltas keyed by their content block index.
func (m *Model) stream(ctx context.Context, params anthropic.MessageNewParams, names *model.ToolNames, out chan<- model.StreamChunk) error {
	stream := m.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var inputTokens int64
	for stream.Next() {
		event := stream.Current()
		var chunks []model.StreamChunk
		switch ev := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			inputTokens = ev.Message.Usage.InputTokens
		case anthropic.ContentBlockStartEvent:
			if ev.ContentBlock.Type == "tool_use" {
				chunks = append(chunks, model.DeltaChunk(int(ev.Index), ev.ContentBlock.ID, names.Catalog(ev.ContentBlock.Name), ""))
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				chunks = append(chunks, model.TextChunk(delta.Text))
			case anthropic.InputJSONDelta:
				chunks = append(chunks, model.DeltaChunk(int(ev.Index), "", "", delta.PartialJSON))
			}
		case anthropic.MessageDeltaEvent:
			chunks = append(chunks, model.UsageChunk(int(inputTokens), int(ev.Usage.OutputTokens)))
			if ev.Delta.StopReason != "" {
				chunks = append(chunks, model.FinishChunk(finishReason(ev.Delta.StopReason)))
			}
		}
		for _, ch := range chunks {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- ch:
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic streaming error: %w", err)
	}
	return nil
}

func finishReason(reason anthropic.StopReason) model.FinishReason {
	if reason == anthropic.StopReasonToolUse {
		return model.FinishToolCall
	}
	return model.FinishStop
}

// buildMessages converts a conversation to Anthropic message format. System
// entries are carried separately and tool results travel as user messages.
func buildMessages(conv *core.Conversation, names *model.ToolNames) []anthropic.MessageParam {
	if conv == nil {
		return nil
	}
	var messages []anthropic.MessageParam
	for _, c := range conv.Chats() {
		switch v := c.Content.(type) {
		case core.TextContent:
			if v.Text == "" {
				continue
			}
			switch c.Role {
			case core.RoleSystem:
			case core.RoleAssistant:
				messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(v.Text)))
			default:
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(v.Text)))
			}
		case core.ToolCall:
			var blocks []anthropic.ContentBlockParamUnion
			if v.Message != "" {
				blocks = append(blocks, anthropic.NewTextBlock(v.Message))
			}
			if !v.IsTextOnly() {
				var input any = map[string]any{}
				if len(v.Arguments) > 0 {
					if err := json.Unmarshal(v.Arguments, &input); err != nil {
						input = string(v.Arguments)
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(v.ID, input, names.Wire(v.Name)))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		case core.ToolCallResult:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(v.Call.ID, v.Text(), v.Failed()),
			))
		}
	}
	return messages
}

// extractSystem collects system entries as system text blocks.
func extractSystem(conv *core.Conversation) []anthropic.TextBlockParam {
	if conv == nil {
		return nil
	}
	var blocks []anthropic.TextBlockParam
	for _, c := range conv.Chats() {
		if c.Role == core.RoleSystem {
			if text := c.Text(); text != "" {
				blocks = append(blocks, anthropic.TextBlockParam{Text: text})
			}
		}
	}
	return blocks
}

// buildTools converts tool definitions to Anthropic tool format.
func buildTools(tools []model.ToolDefinition, names *model.ToolNames) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))

	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}

		if params := tool.Function.Parameters; params != nil {
			if properties, exists := params["properties"]; exists {
				inputSchema.Properties = properties
			}
			switch req := params["required"].(type) {
			case []string:
				inputSchema.Required = req
			case []any:
				for _, r := range req {
					if s, ok := r.(string); ok {
						inputSchema.Required = append(inputSchema.Required, s)
					}
				}
			}
		}

		anthropicTools[i] = anthropic.ToolUnionParamOfTool(inputSchema, names.Wire(tool.Function.Name))
		if anthropicTools[i].OfTool != nil && tool.Function.Description != "" {
			anthropicTools[i].OfTool.Description = anthropic.String(tool.Function.Description)
		}
	}

	return anthropicTools
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}

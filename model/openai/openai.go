// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions streaming API. It adapts agentpipe conversations into the
// SDK's message format and maps streamed deltas onto the model chunk taxonomy.
package openai

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Options configure the OpenAI model adapter. Request-level settings
// (temperature, max tokens, ...) override these defaults when present.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	// APIKey overrides OPENAI_API_KEY when set.
	APIKey string
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client
// (configured from OPENAI_API_KEY and friends).
func NewModel(optFns ...func(o *Options)) *Model {
	var probe Options
	for _, fn := range optFns {
		fn(&probe)
	}
	var clientOpts []option.RequestOption
	if probe.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(probe.APIKey))
	}
	client := openai.NewClient(clientOpts...)
	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.StreamChunk, <-chan error) {
	out := make(chan model.StreamChunk)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		names := model.NewToolNames(req.Tools)
		params := m.buildParams(req, buildMessages(req.Conversation, names))
		if err := m.stream(ctx, params, names, out); err != nil {
			errCh <- err
		}
	}()
	return out, errCh
}

// buildMessages converts a conversation into OpenAI chat messages with tool
// names in their wire form.
func buildMessages(conv *core.Conversation, names *model.ToolNames) []openai.ChatCompletionMessageParamUnion {
	if conv == nil {
		return nil
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, conv.Len())
	for _, c := range conv.Chats() {
		switch v := c.Content.(type) {
		case core.TextContent:
			switch c.Role {
			case core.RoleSystem:
				messages = append(messages, openai.SystemMessage(v.Text))
			case core.RoleAssistant:
				messages = append(messages, openai.AssistantMessage(v.Text))
			default:
				messages = append(messages, openai.UserMessage(v.Text))
			}
		case core.ToolCall:
			if v.IsTextOnly() {
				messages = append(messages, openai.AssistantMessage(v.Message))
				continue
			}
			args := string(v.Arguments)
			if args == "" {
				args = "{}"
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{
				ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
					ID:   v.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      names.Wire(v.Name),
						Arguments: args,
					},
				}},
			}
			if v.Message != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(v.Message)}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case core.ToolCallResult:
			messages = append(messages, openai.ToolMessage(v.Text(), v.Call.ID))
		}
	}
	return messages
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(
	req model.Request,
	messages []openai.ChatCompletionMessageParamUnion,
) openai.ChatCompletionNewParams {
	name := m.opts.Model
	if req.Model != "" {
		name = req.Model
	}
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               name,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
		StreamOptions:       openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)},
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.Seed != nil {
		params.Seed = openai.Int(*req.Seed)
	}
	switch len(req.Stop) {
	case 0:
	case 1:
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfString: openai.String(req.Stop[0])}
	default:
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	if len(req.Tools) == 0 {
		return params
	}
	names := model.NewToolNames(req.Tools)
	params.ToolChoice = toolChoice(req.ToolChoice, names)
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        names.Wire(tdef.Function.Name),
				Description: openai.String(tdef.Function.Description),
				Parameters:  tdef.Function.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// toolChoice maps a request tool choice onto the SDK union. An empty choice
// leaves the provider default.
func toolChoice(choice string, names *model.ToolNames) openai.ChatCompletionToolChoiceOptionUnionParam {
	if choice == "" {
		return openai.ChatCompletionToolChoiceOptionUnionParam{}
	}
	if kw, ok := model.ToolChoiceKeyword(choice); ok {
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(kw)}
	}
	return openai.ChatCompletionToolChoiceOptionUnionParam{
		OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
			Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: names.Wire(choice)},
		},
	}
}

// stream forwards SDK deltas as chunks until the stream ends or ctx is cancelled.
func (m *Model) stream(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	names *model.ToolNames,
	out chan<- model.StreamChunk,
) error {
	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		ck := stream.Current()
		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				if !send(ctx, out, model.TextChunk(ch.Delta.Content)) {
					return ctx.Err()
				}
			}
			for _, tc := range ch.Delta.ToolCalls {
				name := tc.Function.Name
				if name != "" {
					name = names.Catalog(name)
				}
				chunk := model.DeltaChunk(int(tc.Index), tc.ID, name, tc.Function.Arguments)
				if !send(ctx, out, chunk) {
					return ctx.Err()
				}
			}
			if ch.FinishReason != "" {
				if !send(ctx, out, model.FinishChunk(finishReason(ch.FinishReason))) {
					return ctx.Err()
				}
			}
		}
		if ck.Usage.TotalTokens > 0 {
			usage := model.UsageChunk(int(ck.Usage.PromptTokens), int(ck.Usage.CompletionTokens))
			if !send(ctx, out, usage) {
				return ctx.Err()
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai streaming error: %w", err)
	}
	return nil
}

func finishReason(reason string) model.FinishReason {
	switch reason {
	case "tool_calls", "function_call":
		return model.FinishToolCall
	default:
		return model.FinishStop
	}
}

func send(ctx context.Context, out chan<- model.StreamChunk, chunk model.StreamChunk) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- chunk:
		return true
	}
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}

package model

import (
	"context"

	"github.com/hupe1980/agentpipe/core"
)

// OutputKind selects the response shape requested from the pipeline.
type OutputKind int

const (
	// OutputText requests free text and/or a tool call.
	OutputText OutputKind = iota
	// OutputStructured requests a JSON document matching ResultSchema.
	OutputStructured
)

// String implements fmt.Stringer.
func (k OutputKind) String() string {
	if k == OutputStructured {
		return "structured"
	}
	return "text"
}

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures everything sent to a provider for one streaming attempt.
type Request struct {
	Model        string
	Conversation *core.Conversation
	Tools        []ToolDefinition
	ToolChoice   string // "", "auto", "none", "required" or a tool name
	Temperature  *float64
	TopP         *float64
	MaxTokens    *int // output-size hint; also reserved by context trimming
	Seed         *int64
	Stop         []string
	Output       OutputKind
	// ResultSchema is the JSON schema of the structured result (OutputStructured only).
	ResultSchema map[string]any
}

// WithConversation returns a shallow copy of r bound to conv.
func (r Request) WithConversation(conv *core.Conversation) Request {
	r.Conversation = conv
	return r
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "scripted", ...
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the transport collaborator driven by the pipeline.
//
// Generate starts one streaming completion. Implementations send chunks on the
// first channel and at most one error on the second, close both when done and
// must stop producing promptly once ctx is cancelled; consumers abandon a
// stream by cancelling ctx.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan StreamChunk, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

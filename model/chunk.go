package model

import (
	"fmt"

	"github.com/hupe1980/agentpipe/core"
)

// ChunkKind tags a StreamChunk.
type ChunkKind int

const (
	// ChunkText carries a free-text fragment.
	ChunkText ChunkKind = iota + 1
	// ChunkJSON carries a fragment of a structured (JSON mode) response.
	ChunkJSON
	// ChunkToolCallDelta carries a fragment of a provider-native tool call.
	ChunkToolCallDelta
	// ChunkToolCall carries an already complete tool call.
	ChunkToolCall
	// ChunkUsage carries provider-reported token usage.
	ChunkUsage
	// ChunkFinish carries the finish reason.
	ChunkFinish
)

var chunkKindNames = map[ChunkKind]string{
	ChunkText:          "text",
	ChunkJSON:          "json",
	ChunkToolCallDelta: "tool_call_delta",
	ChunkToolCall:      "tool_call",
	ChunkUsage:         "usage",
	ChunkFinish:        "finish",
}

// String implements fmt.Stringer.
func (k ChunkKind) String() string {
	if n, ok := chunkKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("chunk(%d)", int(k))
}

// FinishReason explains why a stream ended.
type FinishReason string

const (
	// FinishStop is a natural end of output.
	FinishStop FinishReason = "stop"
	// FinishToolCall means the model stopped to call a tool.
	FinishToolCall FinishReason = "tool_call"
	// FinishCancelled means the caller cancelled the request.
	FinishCancelled FinishReason = "cancelled"
)

// ToolCallDelta is one fragment of a streamed tool call. ID and Name are
// usually only present on the first fragment of a call.
type ToolCallDelta struct {
	Index    int    // Provider slot index (distinguishes concurrent calls)
	ID       string // Optional
	Name     string // Optional
	Fragment string // Argument JSON fragment
}

// StreamChunk is one incremental unit of a streamed response. Exactly the
// field matching Kind is meaningful.
type StreamChunk struct {
	Kind     ChunkKind
	Text     string           // ChunkText, ChunkJSON
	Delta    *ToolCallDelta   // ChunkToolCallDelta
	ToolCall *core.ToolCall   // ChunkToolCall
	Usage    *core.TokenUsage // ChunkUsage
	Finish   FinishReason     // ChunkFinish
}

// TextChunk creates a text chunk.
func TextChunk(text string) StreamChunk { return StreamChunk{Kind: ChunkText, Text: text} }

// JSONChunk creates a structured-output fragment chunk.
func JSONChunk(fragment string) StreamChunk { return StreamChunk{Kind: ChunkJSON, Text: fragment} }

// DeltaChunk creates a tool-call delta chunk.
func DeltaChunk(index int, id, name, fragment string) StreamChunk {
	return StreamChunk{Kind: ChunkToolCallDelta, Delta: &ToolCallDelta{Index: index, ID: id, Name: name, Fragment: fragment}}
}

// ToolCallChunk creates a complete tool-call chunk.
func ToolCallChunk(call core.ToolCall) StreamChunk {
	return StreamChunk{Kind: ChunkToolCall, ToolCall: &call}
}

// UsageChunk creates a usage chunk.
func UsageChunk(input, output int) StreamChunk {
	return StreamChunk{Kind: ChunkUsage, Usage: &core.TokenUsage{Input: input, Output: output}}
}

// FinishChunk creates a finish chunk.
func FinishChunk(reason FinishReason) StreamChunk {
	return StreamChunk{Kind: ChunkFinish, Finish: reason}
}

// String renders a compact debug representation.
func (c StreamChunk) String() string {
	switch c.Kind {
	case ChunkText, ChunkJSON:
		return fmt.Sprintf("%s(%q)", c.Kind, c.Text)
	case ChunkToolCallDelta:
		if c.Delta != nil {
			return fmt.Sprintf("%s(%d,%s,%q)", c.Kind, c.Delta.Index, c.Delta.Name, c.Delta.Fragment)
		}
	case ChunkToolCall:
		if c.ToolCall != nil {
			return fmt.Sprintf("%s(%s)", c.Kind, c.ToolCall.Name)
		}
	case ChunkUsage:
		if c.Usage != nil {
			return fmt.Sprintf("%s(%d/%d)", c.Kind, c.Usage.Input, c.Usage.Output)
		}
	case ChunkFinish:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Finish)
	}
	return c.Kind.String()
}

package handler

import (
	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/model"
)

// FinishHandler records the last finish reason. It defaults to Stop.
type FinishHandler struct {
	reason model.FinishReason
}

// Accepts implements Handler.
func (h *FinishHandler) Accepts(kind model.ChunkKind) bool { return kind == model.ChunkFinish }

// OnRequest implements Handler.
func (h *FinishHandler) OnRequest(model.Request) { h.reason = "" }

// OnChunk implements Handler.
func (h *FinishHandler) OnChunk(chunk model.StreamChunk) error {
	h.reason = chunk.Finish
	return nil
}

// OnResponse returns the recorded reason, or FinishStop if none arrived.
func (h *FinishHandler) OnResponse() model.FinishReason {
	if h.reason == "" {
		return model.FinishStop
	}
	return h.reason
}

// UsageHandler records the last provider-reported token usage.
type UsageHandler struct {
	usage core.TokenUsage
	seen  bool
}

// Accepts implements Handler.
func (h *UsageHandler) Accepts(kind model.ChunkKind) bool { return kind == model.ChunkUsage }

// OnRequest implements Handler.
func (h *UsageHandler) OnRequest(model.Request) {
	h.usage, h.seen = core.TokenUsage{}, false
}

// OnChunk implements Handler.
func (h *UsageHandler) OnChunk(chunk model.StreamChunk) error {
	if chunk.Usage != nil {
		h.usage, h.seen = *chunk.Usage, true
	}
	return nil
}

// OnResponse returns the reported usage and whether any was reported.
func (h *UsageHandler) OnResponse() (core.TokenUsage, bool) { return h.usage, h.seen }

// Package handler implements the per-attempt chunk handlers of the execution
// pipeline. Each handler is a small state machine that accumulates one
// category of stream chunks and finalizes it into part of a response.
//
// Handlers are request-scoped: a Set is created for every attempt and
// discarded afterwards, so none of them need locking.
package handler

import (
	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/model"
	"github.com/hupe1980/agentpipe/tool"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Handler is the common surface of all chunk handlers.
//
// OnChunk returns retry.ErrEarlyStop to end the attempt without failure and a
// *retry.RecoverableError to abandon it.
type Handler interface {
	Accepts(kind model.ChunkKind) bool
	OnRequest(req model.Request)
	OnChunk(chunk model.StreamChunk) error
}

// callSlot holds the single tool call of a turn. It is shared by the text
// and tool-call handlers of one Set so that only the first call, inline or
// provider-native, wins.
type callSlot struct {
	call *core.ToolCall
}

// claim stores call if the slot is empty and reports whether it did.
func (s *callSlot) claim(call core.ToolCall) bool {
	if s.call != nil {
		return false
	}
	s.call = &call
	return true
}

// Set bundles the handlers of one attempt. Structured is only set for
// structured-output requests; Text only for text requests.
type Set struct {
	Text       *TextHandler
	ToolCall   *ToolCallHandler
	Finish     *FinishHandler
	Usage      *UsageHandler
	Structured *StructuredHandler

	slot     *callSlot
	handlers []Handler
}

// NewSet creates fresh handlers for one attempt. The parser resolves inline
// tool calls; schema validates structured output and may be nil.
func NewSet(output model.OutputKind, parser *tool.Parser, schema *jsonschema.Schema) *Set {
	slot := &callSlot{}
	s := &Set{
		ToolCall: &ToolCallHandler{slot: slot},
		Finish:   &FinishHandler{},
		Usage:    &UsageHandler{},
		slot:     slot,
	}
	if output == model.OutputStructured {
		s.Structured = &StructuredHandler{schema: schema}
		s.handlers = []Handler{s.Structured, s.ToolCall, s.Finish, s.Usage}
	} else {
		s.Text = &TextHandler{parser: parser, slot: slot}
		s.handlers = []Handler{s.Text, s.ToolCall, s.Finish, s.Usage}
	}
	return s
}

// OnRequest lets every handler observe the request before it is sent.
func (s *Set) OnRequest(req model.Request) {
	for _, h := range s.handlers {
		h.OnRequest(req)
	}
}

// Dispatch forwards chunk to every handler accepting its kind and returns
// the first signal raised.
func (s *Set) Dispatch(chunk model.StreamChunk) error {
	var signal error
	for _, h := range s.handlers {
		if !h.Accepts(chunk.Kind) {
			continue
		}
		if err := h.OnChunk(chunk); err != nil && signal == nil {
			signal = err
		}
	}
	return signal
}

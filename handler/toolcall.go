package handler

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/model"
	"github.com/hupe1980/agentpipe/retry"
)

// ToolCallHandler assembles a provider-native tool call from deltas, or
// accepts an already complete call. Only the first call of a turn is kept;
// a second one early-stops the attempt.
type ToolCallHandler struct {
	slot *callSlot

	started bool
	index   int
	id      string
	name    string
	args    strings.Builder
	done    bool // the current delta group materialized
}

// Accepts implements Handler.
func (h *ToolCallHandler) Accepts(kind model.ChunkKind) bool {
	return kind == model.ChunkToolCallDelta || kind == model.ChunkToolCall
}

// OnRequest implements Handler.
func (h *ToolCallHandler) OnRequest(model.Request) {
	h.started, h.done = false, false
	h.index, h.id, h.name = 0, "", ""
	h.args.Reset()
}

// OnChunk implements Handler.
func (h *ToolCallHandler) OnChunk(chunk model.StreamChunk) error {
	switch chunk.Kind {
	case model.ChunkToolCall:
		if chunk.ToolCall == nil {
			return nil
		}
		call := chunk.ToolCall.Clone()
		if call.ID == "" {
			call.ID = newCallID()
		}
		if h.started && !h.done {
			// The unfinished delta group came first.
			return nil
		}
		if !h.slot.claim(call) {
			return retry.ErrEarlyStop
		}
		return nil
	case model.ChunkToolCallDelta:
		return h.onDelta(chunk.Delta)
	}
	return nil
}

func (h *ToolCallHandler) onDelta(d *model.ToolCallDelta) error {
	if d == nil {
		return nil
	}
	if !h.started {
		if h.slot.call != nil {
			// The turn already has a call (inline or complete chunk).
			return retry.ErrEarlyStop
		}
		h.started = true
		h.index = d.Index
	}
	if d.Index != h.index || (d.ID != "" && h.id != "" && d.ID != h.id) {
		// A second delta group: ignored, and it ends the turn once the
		// first call is complete.
		if h.done {
			return retry.ErrEarlyStop
		}
		return nil
	}
	if h.done {
		return nil
	}
	if h.id == "" {
		h.id = d.ID
	}
	if h.name == "" {
		h.name = d.Name
	}
	h.args.WriteString(d.Fragment)
	h.tryMaterialize(false)
	return nil
}

// tryMaterialize turns the buffered arguments into a call once they parse as
// one complete JSON value. With final, an empty buffer counts as "{}".
func (h *ToolCallHandler) tryMaterialize(final bool) {
	if h.done || h.name == "" {
		return
	}
	raw := bytes.TrimSpace([]byte(h.args.String()))
	if len(raw) == 0 {
		if !final {
			return
		}
		raw = []byte("{}")
	}
	if !json.Valid(raw) {
		return
	}
	id := h.id
	if id == "" {
		id = newCallID()
	}
	h.done = true
	h.slot.claim(core.ToolCall{ID: id, Name: h.name, Arguments: json.RawMessage(raw)})
}

// OnResponse materializes a named call still lacking arguments and returns
// the call of the turn, if any.
func (h *ToolCallHandler) OnResponse() *core.ToolCall {
	h.tryMaterialize(true)
	if h.slot.call == nil {
		return nil
	}
	c := h.slot.call.Clone()
	return &c
}

// Pending reports a delta group that never became valid JSON.
func (h *ToolCallHandler) Pending() (name, args string, ok bool) {
	if !h.started || h.done {
		return "", "", false
	}
	return h.name, h.args.String(), true
}

func newCallID() string { return "call_" + uuid.NewString() }

package handler

import (
	"strings"

	"github.com/hupe1980/agentpipe/model"
	"github.com/hupe1980/agentpipe/retry"
	"github.com/hupe1980/agentpipe/tool"
)

// TextHandler accumulates text and watches it for an inline tool call. The
// whole buffer is rescanned after every fragment so calls split across
// chunks are found; the attempt is early-stopped as soon as one closes.
type TextHandler struct {
	parser  *tool.Parser
	slot    *callSlot
	buf     strings.Builder
	message string
	found   bool
}

// Accepts implements Handler.
func (h *TextHandler) Accepts(kind model.ChunkKind) bool { return kind == model.ChunkText }

// OnRequest implements Handler.
func (h *TextHandler) OnRequest(model.Request) {
	h.buf.Reset()
	h.message = ""
	h.found = false
}

// OnChunk implements Handler.
func (h *TextHandler) OnChunk(chunk model.StreamChunk) error {
	if h.found {
		return retry.ErrEarlyStop
	}
	h.buf.WriteString(chunk.Text)
	if h.parser == nil || !strings.Contains(chunk.Text, "}") {
		return nil
	}
	res := h.parser.ExtractInlineToolCall(h.buf.String())
	if res.Call == nil {
		return nil
	}
	h.found = true
	h.message = res.Prefix
	// Text after the closing brace is dropped. A call already delivered
	// natively keeps the slot.
	h.slot.claim(*res.Call)
	return retry.ErrEarlyStop
}

// OnResponse returns the assistant message: the text before an inline call,
// or the whole trimmed buffer when none was found.
func (h *TextHandler) OnResponse() string {
	if h.found {
		return h.message
	}
	return strings.TrimSpace(h.buf.String())
}

// Raw returns the untrimmed accumulated text.
func (h *TextHandler) Raw() string { return h.buf.String() }

// FoundInline reports whether an inline tool call closed in the text.
func (h *TextHandler) FoundInline() bool { return h.found }

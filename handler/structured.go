package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/hupe1980/agentpipe/internal/util"
	"github.com/hupe1980/agentpipe/model"
	"github.com/hupe1980/agentpipe/retry"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// StructuredHandler buffers a JSON document and validates it at the end of
// the stream against the result schema.
type StructuredHandler struct {
	schema *jsonschema.Schema
	buf    strings.Builder
}

// Accepts implements Handler.
func (h *StructuredHandler) Accepts(kind model.ChunkKind) bool {
	return kind == model.ChunkText || kind == model.ChunkJSON
}

// OnRequest implements Handler.
func (h *StructuredHandler) OnRequest(model.Request) { h.buf.Reset() }

// OnChunk implements Handler.
func (h *StructuredHandler) OnChunk(chunk model.StreamChunk) error {
	h.buf.WriteString(chunk.Text)
	return nil
}

// Raw returns the buffered text.
func (h *StructuredHandler) Raw() string { return h.buf.String() }

// OnResponse parses and validates the buffer. A cancelled stream yields neither
// a result nor an error; every other failure is recoverable.
func (h *StructuredHandler) OnResponse(finish model.FinishReason) (json.RawMessage, error) {
	if finish == model.FinishCancelled {
		return nil, nil
	}
	raw := bytes.TrimSpace([]byte(h.buf.String()))
	if len(raw) == 0 {
		return nil, retry.Recoverable("structured output is empty", nil)
	}
	raw = stripCodeFence(raw)
	if !json.Valid(raw) {
		var v any
		err := json.Unmarshal(raw, &v)
		if err == nil {
			err = errors.New("invalid JSON")
		}
		return nil, retry.Recoverable("structured output is not valid JSON", err)
	}
	if h.schema != nil {
		if err := util.ValidateJSON(h.schema, raw); err != nil {
			return nil, retry.Recoverable("structured output does not match the schema", err)
		}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return nil, retry.Recoverable("structured output is not valid JSON", err)
	}
	return json.RawMessage(compact.Bytes()), nil
}

// stripCodeFence removes a surrounding markdown code fence.
func stripCodeFence(raw []byte) []byte {
	if !bytes.HasPrefix(raw, []byte("```")) {
		return raw
	}
	raw = raw[3:]
	if nl := bytes.IndexByte(raw, '\n'); nl >= 0 {
		raw = raw[nl+1:]
	}
	raw = bytes.TrimSuffix(bytes.TrimSpace(raw), []byte("```"))
	return bytes.TrimSpace(raw)
}

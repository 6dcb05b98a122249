package tool

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/hupe1980/agentpipe/core"
)

// InlineResult is the outcome of scanning free text for an inline tool call.
type InlineResult struct {
	// Call is the first complete inline call, nil if none was found. Its
	// Message holds Prefix.
	Call *core.ToolCall
	// Prefix is the trimmed text preceding the call (the whole trimmed text
	// when no call was found).
	Prefix string
	// Trailing is the trimmed text following the last inline call object.
	Trailing string
	// Ignored counts further inline calls after the first one.
	Ignored int
	// End is the byte offset just past the first call object.
	End int
}

type inlineCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ExtractInlineToolCall scans text for JSON objects shaped like
// {"name": "...", "arguments": {...}} whose name resolves in the catalog.
// Arbitrary prose may surround the objects; braces inside JSON strings are
// ignored. Only the first call is returned.
func (p *Parser) ExtractInlineToolCall(text string) InlineResult {
	res := InlineResult{Prefix: strings.TrimSpace(text)}
	lastEnd := -1
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end := matchBrace(text, i)
		if end < 0 {
			continue
		}
		call, ok := p.decodeInline(text[i : end+1])
		if !ok {
			continue
		}
		if res.Call == nil {
			res.Prefix = strings.TrimSpace(text[:i])
			call.Message = res.Prefix
			res.Call = call
			res.End = end + 1
		} else {
			res.Ignored++
		}
		lastEnd = end + 1
		i = end
	}
	if lastEnd >= 0 {
		res.Trailing = strings.TrimSpace(text[lastEnd:])
	}
	return res
}

func (p *Parser) decodeInline(candidate string) (*core.ToolCall, bool) {
	var ic inlineCall
	if err := json.Unmarshal([]byte(candidate), &ic); err != nil || ic.Name == "" || ic.Arguments == nil {
		return nil, false
	}
	name := ic.Name
	if p.catalog != nil {
		t, ok := p.catalog.Lookup(ic.Name)
		if !ok {
			return nil, false
		}
		name = t.name
	}
	return &core.ToolCall{
		ID:        "call_" + uuid.NewString(),
		Name:      name,
		Arguments: ic.Arguments,
	}, true
}

// matchBrace returns the index of the brace closing the object opened at
// start, or -1 when the object is not complete. Braces inside strings do not
// count and backslash escapes are honored.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

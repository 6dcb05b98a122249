package model

import (
	"strconv"
	"strings"
)

// maxWireToolName is the longest function name provider APIs accept.
const maxWireToolName = 64

// WireToolName converts a catalog tool name into a function name matching
// ^[a-zA-Z0-9_-]{1,64}$. The scope separator "." becomes "__".
func WireToolName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '.':
			b.WriteString("__")
		case r == '_' || r == '-',
			r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		return "_"
	}
	if len(out) > maxWireToolName {
		out = out[:maxWireToolName]
	}
	return out
}

// ToolNames translates between catalog tool names and the names sent to a
// provider for one request.
type ToolNames struct {
	toWire   map[string]string
	fromWire map[string]string
}

// NewToolNames builds the translation for the tools offered in a request.
// Names that collide on the wire get a numeric suffix.
func NewToolNames(tools []ToolDefinition) *ToolNames {
	n := &ToolNames{
		toWire:   make(map[string]string, len(tools)),
		fromWire: make(map[string]string, len(tools)),
	}
	for _, t := range tools {
		name := t.Function.Name
		if _, ok := n.toWire[name]; ok {
			continue
		}
		wire := WireToolName(name)
		for i := 2; ; i++ {
			if _, taken := n.fromWire[wire]; !taken {
				break
			}
			suffix := "_" + strconv.Itoa(i)
			base := WireToolName(name)
			if len(base)+len(suffix) > maxWireToolName {
				base = base[:maxWireToolName-len(suffix)]
			}
			wire = base + suffix
		}
		n.toWire[name] = wire
		n.fromWire[wire] = name
	}
	return n
}

// Wire returns the provider-side name of a catalog tool.
func (n *ToolNames) Wire(name string) string {
	if n != nil {
		if wire, ok := n.toWire[name]; ok {
			return wire
		}
	}
	return WireToolName(name)
}

// Catalog returns the catalog name of a provider-side tool name. Unknown
// names are returned unchanged.
func (n *ToolNames) Catalog(wire string) string {
	if n != nil {
		if name, ok := n.fromWire[wire]; ok {
			return name
		}
	}
	return wire
}

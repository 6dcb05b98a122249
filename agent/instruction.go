package agent

import (
	"context"
	"strings"

	"github.com/hupe1980/agentpipe/internal/util"
)

// InstructionProvider supplies system instruction text when a Run starts.
type InstructionProvider interface {
	Instruction(ctx context.Context) (string, error)
}

// InstructionFunc adapts a function to InstructionProvider.
type InstructionFunc func(ctx context.Context) (string, error)

// Instruction implements InstructionProvider.
func (f InstructionFunc) Instruction(ctx context.Context) (string, error) { return f(ctx) }

type staticInstruction string

func (s staticInstruction) Instruction(context.Context) (string, error) { return string(s), nil }

// Instruction is the system instruction of a Loop: static text or a provider
// consulted once per Run. The resolved text is a text/template rendered with
// the loop state before every model call.
type Instruction struct {
	source InstructionProvider
}

// NewInstructionFromText creates a static Instruction.
func NewInstructionFromText(text string) Instruction {
	if strings.TrimSpace(text) == "" {
		return Instruction{}
	}
	return Instruction{source: staticInstruction(text)}
}

// NewInstructionFromProvider creates an Instruction backed by p.
func NewInstructionFromProvider(p InstructionProvider) Instruction { return Instruction{source: p} }

// NewInstructionFromFunc creates an Instruction backed by fn.
func NewInstructionFromFunc(fn func(ctx context.Context) (string, error)) Instruction {
	return Instruction{source: InstructionFunc(fn)}
}

// IsStatic reports whether the instruction is fixed text.
func (i Instruction) IsStatic() bool {
	_, ok := i.source.(staticInstruction)
	return ok || i.source == nil
}

// IsZero reports whether no instruction was configured.
func (i Instruction) IsZero() bool { return i.source == nil }

// Resolve returns the raw template text with surrounding whitespace removed.
func (i Instruction) Resolve(ctx context.Context) (string, error) {
	if i.source == nil {
		return "", nil
	}
	text, err := i.source.Instruction(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Render resolves the instruction and renders it with state.
func (i Instruction) Render(ctx context.Context, state map[string]any) (string, error) {
	text, err := i.Resolve(ctx)
	if err != nil || text == "" {
		return "", err
	}
	return util.RenderTemplate(text, state)
}

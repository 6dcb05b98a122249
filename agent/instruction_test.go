package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	text string
	err  error
}

func (m mockProvider) Instruction(context.Context) (string, error) { return m.text, m.err }

func TestInstructionStatic(t *testing.T) {
	inst := NewInstructionFromText("  static instruction\n")
	assert.True(t, inst.IsStatic())
	assert.False(t, inst.IsZero())

	got, err := inst.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static instruction", got)
}

func TestInstructionBlankTextIsZero(t *testing.T) {
	assert.True(t, NewInstructionFromText(" \n").IsZero())
	assert.True(t, Instruction{}.IsZero())

	got, err := Instruction{}.Resolve(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInstructionFromFunc(t *testing.T) {
	inst := NewInstructionFromFunc(func(context.Context) (string, error) { return "dynamic via func", nil })
	assert.False(t, inst.IsStatic())

	got, err := inst.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dynamic via func", got)
}

func TestInstructionProviderError(t *testing.T) {
	inst := NewInstructionFromProvider(mockProvider{err: errors.New("boom")})

	_, err := inst.Resolve(context.Background())
	assert.EqualError(t, err, "boom")
}

func TestInstructionRender(t *testing.T) {
	inst := NewInstructionFromProvider(mockProvider{text: "You help {{.user}} with {{default \"anything\" .topic}}."})

	got, err := inst.Render(context.Background(), map[string]any{"user": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "You help Ada with anything.", got)

	_, err = NewInstructionFromText("{{ .broken").Render(context.Background(), nil)
	assert.Error(t, err)
}

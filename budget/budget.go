// Package budget trims conversations to a token budget before they are sent
// to a model.
//
// The Manager only implements the trimming policy; token counting is
// delegated to a TokenCounter (CharEstimator by default).
package budget

import (
	"errors"
	"fmt"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/logging"
)

var (
	// ErrNilConversation is returned when Trim is called without a conversation.
	ErrNilConversation = errors.New("conversation is nil")
	// ErrGapOutOfRange is returned when the required gap is negative or
	// exceeds Margin*MaxTokens.
	ErrGapOutOfRange = errors.New("required gap out of range")
)

// Options configures a Manager.
type Options struct {
	// MaxTokens is the context window size. Zero disables trimming.
	MaxTokens int
	// Margin is the share of MaxTokens used when no gap is requested.
	Margin float64
	// KeepLastMessages is the smallest window of user/assistant turns the
	// sliding window keeps.
	KeepLastMessages int
	Counter          TokenCounter
	Logger           logging.Logger
}

// Manager produces token-bounded copies of conversations.
type Manager struct {
	opts Options
}

// NewManager creates a Manager. Defaults: 8192 tokens, margin 0.8, keep 4.
func NewManager(optFns ...func(o *Options)) *Manager {
	opts := Options{
		MaxTokens:        8192,
		Margin:           0.8,
		KeepLastMessages: 4,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Counter == nil {
		opts.Counter = NewCharEstimator()
	}
	if opts.KeepLastMessages < 1 {
		opts.KeepLastMessages = 1
	}
	if opts.Margin <= 0 || opts.Margin > 1 {
		opts.Margin = 0.8
	}
	return &Manager{opts: opts}
}

// Counter returns the token counter in use.
func (m *Manager) Counter() TokenCounter { return m.opts.Counter }

// MaxTokens returns the configured context window size.
func (m *Manager) MaxTokens() int { return m.opts.MaxTokens }

// MaxGap returns the largest response gap TrimWithGap accepts.
func (m *Manager) MaxGap() int {
	return int(float64(m.opts.MaxTokens) * m.opts.Margin)
}

// Trim returns a copy of conv that fits MaxTokens*Margin.
func (m *Manager) Trim(conv *core.Conversation) (*core.Conversation, error) {
	if conv == nil {
		return nil, ErrNilConversation
	}
	return m.trim(conv, int(float64(m.opts.MaxTokens)*m.opts.Margin)), nil
}

// TrimWithGap returns a copy of conv that leaves gap tokens free for the
// response: the limit is MaxTokens-gap. With trimming disabled any
// non-negative gap is accepted.
func (m *Manager) TrimWithGap(conv *core.Conversation, gap int) (*core.Conversation, error) {
	if conv == nil {
		return nil, ErrNilConversation
	}
	if gap < 0 {
		return nil, fmt.Errorf("%w: %d is negative", ErrGapOutOfRange, gap)
	}
	if m.opts.MaxTokens <= 0 {
		return conv.Clone(), nil
	}
	if maxGap := m.MaxGap(); gap > maxGap {
		return nil, fmt.Errorf("%w: %d not in [0,%d]", ErrGapOutOfRange, gap, maxGap)
	}
	return m.trim(conv, m.opts.MaxTokens-gap), nil
}

func (m *Manager) trim(conv *core.Conversation, limit int) *core.Conversation {
	out := conv.Clone()
	if m.opts.MaxTokens <= 0 || m.opts.Counter.CountTokens(out) <= limit {
		return out
	}
	before := out.Len()

	chats := out.Chats()
	keep := make([]bool, len(chats))
	for i := range keep {
		keep[i] = true
	}
	protected := protectedIndexes(chats)

	within := func() bool {
		return m.opts.Counter.CountTokens(build(conv.ID, chats, keep, false)) <= limit
	}

	// Tool exchanges other than the newest go first, oldest first. A result
	// is dropped together with the call it answers.
	for i, c := range chats {
		if c.Role != core.RoleTool || protected[i] {
			continue
		}
		keep[i] = false
		if j := answeredCall(chats, i); j >= 0 && !protected[j] {
			keep[j] = false
		}
		if within() {
			return m.finish(conv.ID, chats, keep, before, limit)
		}
	}

	// Sliding window over the remaining conversation turns.
	var window []int
	for i, c := range chats {
		if keep[i] && !protected[i] && c.Role != core.RoleSystem {
			window = append(window, i)
		}
	}
	for len(window) > m.opts.KeepLastMessages && !within() {
		keep[window[0]] = false
		window = window[1:]
	}

	return m.finish(conv.ID, chats, keep, before, limit)
}

func (m *Manager) finish(id string, chats []core.Chat, keep []bool, before, limit int) *core.Conversation {
	out := build(id, chats, keep, true)
	m.opts.Logger.Debug("budget.trim", "before", before, "after", out.Len(), "limit", limit)
	return out
}

// protectedIndexes marks system messages, the newest tool message and the
// call it answers.
func protectedIndexes(chats []core.Chat) []bool {
	protected := make([]bool, len(chats))
	lastTool := -1
	for i, c := range chats {
		switch c.Role {
		case core.RoleSystem:
			protected[i] = true
		case core.RoleTool:
			lastTool = i
		}
	}
	if lastTool >= 0 {
		protected[lastTool] = true
		if j := answeredCall(chats, lastTool); j >= 0 {
			protected[j] = true
		}
	}
	return protected
}

// answeredCall finds the assistant tool call answered by the tool message at
// i: the nearest preceding call with the same id, or the nearest preceding
// call when ids are missing.
func answeredCall(chats []core.Chat, i int) int {
	res, ok := chats[i].AsToolResult()
	if !ok {
		return -1
	}
	fallback := -1
	for j := i - 1; j >= 0; j-- {
		call, ok := chats[j].AsToolCall()
		if !ok || call.IsTextOnly() {
			continue
		}
		if res.Call.ID != "" && call.ID == res.Call.ID {
			return j
		}
		if fallback < 0 && (res.Call.ID == "" || call.ID == "") {
			fallback = j
		}
	}
	return fallback
}

// build assembles the kept entries. With systemFirst, system messages are
// moved ahead of the other entries, each group keeping its relative order.
func build(id string, chats []core.Chat, keep []bool, systemFirst bool) *core.Conversation {
	out := &core.Conversation{ID: id}
	if systemFirst {
		for i, c := range chats {
			if keep[i] && c.Role == core.RoleSystem {
				out.Append(c)
			}
		}
	}
	for i, c := range chats {
		if !keep[i] || (systemFirst && c.Role == core.RoleSystem) {
			continue
		}
		out.Append(c)
	}
	return out
}

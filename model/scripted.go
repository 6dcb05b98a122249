package model

import (
	"context"
	"sync"
	"time"
)

// Script is one canned streaming response of a ScriptedModel.
type Script struct {
	Chunks []StreamChunk
	Err    error         // Sent after all chunks, if set
	Delay  time.Duration // Pause before each chunk
	// Block keeps the stream open after the chunks until ctx is cancelled.
	Block bool
}

// ScriptedModel is a deterministic in-memory Model for tests and examples.
// Each Generate call plays the next script; the last script repeats once the
// list is exhausted.
type ScriptedModel struct {
	mu       sync.Mutex
	info     Info
	scripts  []Script
	calls    int
	requests []Request
}

// NewScriptedModel constructs a ScriptedModel playing the given scripts in order.
func NewScriptedModel(scripts ...Script) *ScriptedModel {
	return &ScriptedModel{
		info:    Info{Name: "scripted", Provider: "scripted", SupportsTools: true},
		scripts: scripts,
	}
}

// TextScript is a convenience script streaming text fragments then Stop.
func TextScript(fragments ...string) Script {
	chunks := make([]StreamChunk, 0, len(fragments)+1)
	for _, f := range fragments {
		chunks = append(chunks, TextChunk(f))
	}
	chunks = append(chunks, FinishChunk(FinishStop))
	return Script{Chunks: chunks}
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan StreamChunk, <-chan error) {
	out := make(chan StreamChunk)
	errCh := make(chan error, 1)

	m.mu.Lock()
	if req.Conversation != nil {
		req.Conversation = req.Conversation.Clone()
	}
	m.requests = append(m.requests, req)
	var script Script
	if len(m.scripts) > 0 {
		idx := m.calls
		if idx >= len(m.scripts) {
			idx = len(m.scripts) - 1
		}
		script = m.scripts[idx]
	}
	m.calls++
	m.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errCh)
		for _, ch := range script.Chunks {
			if script.Delay > 0 {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case <-time.After(script.Delay):
				}
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- ch:
			}
		}
		if script.Block {
			<-ctx.Done()
			errCh <- ctx.Err()
			return
		}
		if script.Err != nil {
			errCh <- script.Err
		}
	}()
	return out, errCh
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }

// Calls returns the number of Generate invocations so far.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns the requests received so far (conversations are snapshots).
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

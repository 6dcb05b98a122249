package core

import "sync"

// TokenUsage captures prompt (input) and completion (output) token counts.
type TokenUsage struct {
	Input  int `json:"input_tokens"`
	Output int `json:"output_tokens"`
}

// Total returns Input + Output.
func (u TokenUsage) Total() int { return u.Input + u.Output }

// Add returns the element-wise sum of u and o.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{Input: u.Input + o.Input, Output: u.Output + o.Output}
}

// IsZero reports whether no tokens were recorded.
func (u TokenUsage) IsZero() bool { return u.Input == 0 && u.Output == 0 }

// UsageCounter accumulates token usage across requests. It is the one piece
// of state shared by concurrent pipeline invocations and serializes updates.
type UsageCounter struct {
	mu       sync.Mutex
	total    TokenUsage
	requests int
}

// NewUsageCounter creates an empty counter.
func NewUsageCounter() *UsageCounter { return &UsageCounter{} }

// Record adds the usage of one completed request.
func (c *UsageCounter) Record(u TokenUsage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total = c.total.Add(u)
	c.requests++
}

// Total returns the accumulated usage.
func (c *UsageCounter) Total() TokenUsage {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.total
}

// Requests returns how many requests have been recorded.
func (c *UsageCounter) Requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.requests
}

// Reset clears the counter.
func (c *UsageCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total = TokenUsage{}
	c.requests = 0
}

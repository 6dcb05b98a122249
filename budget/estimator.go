package budget

import (
	"encoding/json"
	"sync"

	"github.com/hupe1980/agentpipe/core"
)

// TokenCounter estimates the token count of a conversation.
type TokenCounter interface {
	CountTokens(conv *core.Conversation) int
}

// TokenCounterFunc adapts a function to TokenCounter.
type TokenCounterFunc func(conv *core.Conversation) int

// CountTokens implements TokenCounter.
func (f TokenCounterFunc) CountTokens(conv *core.Conversation) int { return f(conv) }

// defaultCharactersPerToken is the initial ratio before calibration. It
// overestimates for typical English text mixed with code.
const defaultCharactersPerToken = 4.0

// defaultSmoothingFactor weights a new observation against the running ratio.
const defaultSmoothingFactor = 0.3

// CharEstimator estimates tokens from the length of the serialized
// conversation using a characters-per-token ratio calibrated from
// provider-reported usage. It is safe for concurrent use.
type CharEstimator struct {
	mu                 sync.Mutex
	charactersPerToken float64
	smoothingFactor    float64
	observations       int
}

// NewCharEstimator creates an estimator starting at 4 characters per token.
func NewCharEstimator() *CharEstimator {
	return &CharEstimator{
		charactersPerToken: defaultCharactersPerToken,
		smoothingFactor:    defaultSmoothingFactor,
	}
}

// CountTokens implements TokenCounter. Always rounds up.
func (e *CharEstimator) CountTokens(conv *core.Conversation) int {
	return e.CountChars(SerializedLength(conv))
}

// CountChars converts a character count to an estimated token count.
func (e *CharEstimator) CountChars(chars int) int {
	if chars <= 0 {
		return 0
	}
	e.mu.Lock()
	ratio := e.charactersPerToken
	e.mu.Unlock()
	return int(float64(chars)/ratio) + 1
}

// RecordUsage calibrates the ratio from the actual input token count of a
// request whose serialized prompt had chars characters. The first
// observation replaces the default; later ones are blended in.
func (e *CharEstimator) RecordUsage(chars int, actualInputTokens int) {
	if chars <= 0 || actualInputTokens <= 0 {
		return
	}
	observed := float64(chars) / float64(actualInputTokens)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.observations++
	if e.observations == 1 {
		e.charactersPerToken = observed
		return
	}
	e.charactersPerToken = e.smoothingFactor*observed + (1.0-e.smoothingFactor)*e.charactersPerToken
}

// Ratio returns the current characters-per-token ratio.
func (e *CharEstimator) Ratio() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.charactersPerToken
}

// SerializedLength returns the length of the wire JSON form of conv.
func SerializedLength(conv *core.Conversation) int {
	if conv == nil {
		return 0
	}
	data, err := json.Marshal(conv)
	if err != nil {
		n := 0
		for _, c := range conv.Chats() {
			n += len(c.Text())
		}
		return n
	}
	return len(data)
}

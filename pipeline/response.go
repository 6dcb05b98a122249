package pipeline

import (
	"encoding/json"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/model"
)

// Response is the outcome of one Execute call.
type Response struct {
	// Message is the assistant text. With an inline tool call it is the text
	// preceding the call.
	Message string
	// ToolCall is the validated tool call of the turn, if any.
	ToolCall *core.ToolCall
	Finish   model.FinishReason
	// Usage sums all attempts. Provider-reported counts win over estimates.
	Usage core.TokenUsage
	// Estimated is true when at least one attempt had no provider usage.
	Estimated bool
	// Structured holds the compact JSON result of a structured request.
	Structured json.RawMessage
	Attempts   int
	// Feedback lists the retry feedback appended during the run.
	Feedback []string
	// Err marks an unresolved response after retries were exhausted.
	Err error
}

// HasToolCall reports whether the response asks for a tool invocation.
func (r *Response) HasToolCall() bool {
	return r != nil && r.ToolCall != nil && !r.ToolCall.IsTextOnly()
}

// Cancelled reports whether the caller cancelled the request.
func (r *Response) Cancelled() bool {
	return r != nil && r.Finish == model.FinishCancelled
}

// Chat converts the response into the assistant chat appended to a
// conversation: a tool call chat when a call is present, text otherwise.
func (r *Response) Chat() core.Chat {
	if r.HasToolCall() {
		call := r.ToolCall.Clone()
		call.Message = r.Message
		return core.ToolCallChat(call)
	}
	return core.AssistantChat(r.Message)
}

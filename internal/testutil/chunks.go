package testutil

import (
	"github.com/hupe1980/agentpipe/model"
)

// DeltaCall returns the chunks of a provider-native tool call streamed in
// fragments, followed by a tool call finish.
func DeltaCall(id, name string, fragments ...string) []model.StreamChunk {
	chunks := make([]model.StreamChunk, 0, len(fragments)+2)
	chunks = append(chunks, model.DeltaChunk(0, id, name, ""))
	for _, f := range fragments {
		chunks = append(chunks, model.DeltaChunk(0, "", "", f))
	}
	return append(chunks, model.FinishChunk(model.FinishToolCall))
}

// CallScript is a script streaming one native tool call.
func CallScript(id, name string, fragments ...string) model.Script {
	return model.Script{Chunks: DeltaCall(id, name, fragments...)}
}

// WithUsage appends a usage chunk to s.
func WithUsage(s model.Script, input, output int) model.Script {
	s.Chunks = append(append([]model.StreamChunk(nil), s.Chunks...), model.UsageChunk(input, output))
	return s
}

// JSONScript streams structured-output fragments then Stop.
func JSONScript(fragments ...string) model.Script {
	chunks := make([]model.StreamChunk, 0, len(fragments)+1)
	for _, f := range fragments {
		chunks = append(chunks, model.JSONChunk(f))
	}
	return model.Script{Chunks: append(chunks, model.FinishChunk(model.FinishStop))}
}

// Package agent implements the tool-calling execution loop on top of the
// pipeline package. The package focuses on two concerns:
//
//  1. Driving the pipeline repeatedly, invoking each returned tool call and
//     feeding its result back until the model answers in text (Loop)
//  2. Resolving the system instruction, statically or from a provider, and
//     rendering it as a template (Instruction)
//
// Execution model:
//   - Run works on a scratch copy of the caller's conversation and returns
//     it in the Result; the caller's conversation is never mutated
//   - Tool invocations are strictly sequential, one per iteration
//   - Tool failures are data: they are appended as failed tool results and
//     the model decides how to react
//   - The iteration cap is a soft stop: the last response is returned
//     without an error
package agent

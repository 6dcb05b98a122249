// Package model defines the provider-agnostic contract between the execution
// pipeline and an LLM transport.
//
// Core goals:
//   - A single streaming interface (Model.Generate) yielding typed chunks
//   - A closed chunk taxonomy: text, JSON, tool-call delta, complete tool call,
//     usage and finish
//   - One outbound wire shape (EncodeRequest) the pipeline measures to
//     estimate request tokens
//   - Provider-safe tool names (WireToolName, ToolNames) for adapters
//   - Lightweight scripting for tests (ScriptedModel)
//
// Providers (e.g. OpenAI, Anthropic) implement Model in sub-packages so the
// pipeline remains decoupled from vendor SDKs.
package model

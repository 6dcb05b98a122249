// Package core provides the conversation model shared by every other package
// in agentpipe:
//
//   - Roles and the closed set of chat contents (text, tool call, tool result)
//   - Conversation, an ordered message log with append / remove / clone
//   - Tool call identity and equivalence
//   - Token usage values and the process-wide UsageCounter
//
// A Conversation is owned by a single caller and is not safe for concurrent
// mutation. Components that need to modify a conversation they did not create
// (budget trimming, retries) always work on a Clone.
package core

// Package memory contains Store implementations persisting conversations by
// session id. Select an implementation (in-memory, Redis or SQLite) at wiring
// time and depend on the Store interface in your code.
//
// Every store serializes a conversation as a JSON array of chat-completions
// messages, the same shape that is sent to the model, so records can be
// inspected or migrated with ordinary JSON tooling.
package memory

package core

import (
	"fmt"

	"github.com/google/uuid"
)

// Conversation is an ordered, append-mostly log of chats. Entries keep their
// insertion order; removal is only used by context trimming.
//
// A Conversation is not safe for concurrent mutation. Use Clone to branch.
type Conversation struct {
	ID    string
	chats []Chat
}

// NewConversation creates a conversation with a fresh id holding the given chats.
func NewConversation(chats ...Chat) *Conversation {
	c := &Conversation{ID: uuid.NewString()}
	c.chats = append(c.chats, chats...)
	return c
}

// Append adds chats to the end of the conversation.
func (c *Conversation) Append(chats ...Chat) {
	c.chats = append(c.chats, chats...)
}

// Len returns the number of entries.
func (c *Conversation) Len() int {
	if c == nil {
		return 0
	}
	return len(c.chats)
}

// IsEmpty reports whether the conversation holds no entries.
func (c *Conversation) IsEmpty() bool { return c.Len() == 0 }

// At returns the entry at index i.
func (c *Conversation) At(i int) Chat { return c.chats[i] }

// Last returns the newest entry, if any.
func (c *Conversation) Last() (Chat, bool) {
	if c.Len() == 0 {
		return Chat{}, false
	}
	return c.chats[len(c.chats)-1], true
}

// Chats returns a copy of the entries slice. Contents are shared; use Clone
// for a deep copy.
func (c *Conversation) Chats() []Chat {
	out := make([]Chat, len(c.chats))
	copy(out, c.chats)
	return out
}

// RemoveAt deletes the entry at index i preserving the order of the rest.
func (c *Conversation) RemoveAt(i int) error {
	if i < 0 || i >= len(c.chats) {
		return fmt.Errorf("remove index %d out of range [0,%d)", i, len(c.chats))
	}
	c.chats = append(c.chats[:i], c.chats[i+1:]...)
	return nil
}

// Clone returns a copy that can be mutated without affecting c. Tool call
// arguments and bound parameters are copied; tool result values are shared.
func (c *Conversation) Clone() *Conversation {
	out := &Conversation{ID: c.ID, chats: make([]Chat, len(c.chats))}
	for i, ch := range c.chats {
		out.chats[i] = ch.clone()
	}
	return out
}

// LastAssistant returns the newest assistant entry, if any.
func (c *Conversation) LastAssistant() (Chat, bool) {
	for i := len(c.chats) - 1; i >= 0; i-- {
		if c.chats[i].Role == RoleAssistant {
			return c.chats[i], true
		}
	}
	return Chat{}, false
}

// LastAssistantInTurn returns the newest assistant entry unless a user entry
// follows it.
func (c *Conversation) LastAssistantInTurn() (Chat, bool) {
	for i := len(c.chats) - 1; i >= 0; i-- {
		switch c.chats[i].Role {
		case RoleUser:
			return Chat{}, false
		case RoleAssistant:
			return c.chats[i], true
		}
	}
	return Chat{}, false
}

// Validate checks every entry's role/content pairing.
func (c *Conversation) Validate() error {
	for i, ch := range c.chats {
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("chat %d: %w", i, err)
		}
	}
	return nil
}

package memory

import (
	"context"
	"sync"

	"github.com/hupe1980/agentpipe/core"
)

// InMemoryStore is a volatile Store keeping serialized conversations in a
// process local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Records are stored in their JSON form, so
// callers never share state with the store.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	opts    Options
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]byte), opts: newOptions(optFns)}
}

// Load implements Store.
func (s *InMemoryStore) Load(_ context.Context, sessionID string) (*core.Conversation, error) {
	if err := validateSession(sessionID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.records[sessionID]
	s.mu.RUnlock()
	if !ok {
		return emptyConversation(sessionID), nil
	}
	return decode(sessionID, data)
}

// Save implements Store.
func (s *InMemoryStore) Save(_ context.Context, sessionID string, conv *core.Conversation) error {
	if err := validateSession(sessionID); err != nil {
		return err
	}
	data, n, err := encode(conv, s.opts.HistoryCap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.records[sessionID] = data
	s.mu.Unlock()
	s.opts.Logger.Debug("memory.save", "store", "memory", "session_id", sessionID, "messages", n)
	return nil
}

// Delete removes the record of a session.
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sessionID)
	return nil
}

// Sessions returns the ids of all stored sessions in unspecified order.
func (s *InMemoryStore) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids
}

// Package store holds one ordered conversation history per active call.
// State is process-lifetime only: a call's history has no meaning once the
// call is over.
package store

import (
	"errors"
	"sync"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrDuplicateSession = errors.New("session already exists")
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is immutable once appended.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Store maps call SIDs to histories. Mutations on one call are serialized by
// a per-entry lock; different calls never contend beyond the map lookup.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	history []Message
}

func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Create seeds a new history with the system message. The first message of
// every history is the system message and is never removed.
func (s *Store) Create(callSid, systemPrompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[callSid]; exists {
		return ErrDuplicateSession
	}
	e := &entry{history: make([]Message, 0, 16)}
	e.history = append(e.history, Message{Role: RoleSystem, Content: systemPrompt})
	s.entries[callSid] = e
	return nil
}

func (s *Store) Append(callSid string, msg Message) error {
	e, ok := s.lookup(callSid)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	e.history = append(e.history, msg)
	e.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the history so callers can read it while the
// call keeps appending.
func (s *Store) Snapshot(callSid string) ([]Message, error) {
	e, ok := s.lookup(callSid)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	out := make([]Message, len(e.history))
	copy(out, e.history)
	e.mu.Unlock()
	return out, nil
}

// Delete removes the call's history. Deleting an absent call is a no-op.
func (s *Store) Delete(callSid string) {
	s.mu.Lock()
	delete(s.entries, callSid)
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) lookup(callSid string) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[callSid]
	s.mu.RUnlock()
	return e, ok
}

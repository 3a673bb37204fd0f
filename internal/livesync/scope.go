package livesync

import (
	"context"
	"sync"

	"github.com/TheMichaelB/clinicdesk/internal/store"
)

// Token identifies one opening of a scope. A token taken before a network
// call tells the caller afterwards whether its result still applies.
type Token struct {
	gen uint64
	key string
}

// Key returns the record the scope was opened on.
func (t Token) Key() string {
	return t.key
}

// Scope holds at most one subscription for a collection tied to an open
// record, such as one patient's chat. Opening another record releases the
// previous subscription before the new one is attached.
type Scope struct {
	engine *Engine
	name   string

	mu     sync.Mutex
	handle *Handle
	key    string
	gen    uint64
}

// NewScope creates a scope for the collection name.
func NewScope(engine *Engine, name string) *Scope {
	return &Scope{engine: engine, name: name}
}

// Name returns the collection name.
func (s *Scope) Name() string {
	return s.name
}

// Open releases the current subscription, if any, and subscribes q for key.
func (s *Scope) Open(ctx context.Context, key string, q store.Query) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.releaseLocked(); err != nil {
		return Token{}, err
	}

	h, err := s.engine.Subscribe(ctx, s.name, q)
	if err != nil {
		return Token{}, err
	}

	s.gen++
	s.handle = h
	s.key = key
	return Token{gen: s.gen, key: key}, nil
}

// Close releases the current subscription.
func (s *Scope) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked()
}

func (s *Scope) releaseLocked() error {
	if s.handle == nil {
		return nil
	}
	h := s.handle
	s.handle = nil
	s.key = ""
	s.gen++
	return s.engine.Unsubscribe(h)
}

// Current returns a token for the open record, and false when closed.
func (s *Scope) Current() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return Token{}, false
	}
	return Token{gen: s.gen, key: s.key}, true
}

// IsCurrent reports whether t still names the open record.
func (s *Scope) IsCurrent(t Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil && t.gen == s.gen
}

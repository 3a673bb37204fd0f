package journal

import (
	"io"
	"sync"
)

// Pending is a file chosen for the next message.
type Pending struct {
	Name string
	Body io.Reader
}

// Slot holds at most one pending file. Take empties it.
type Slot struct {
	mu      sync.Mutex
	pending *Pending
}

// Attach replaces the pending file.
func (s *Slot) Attach(name string, body io.Reader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &Pending{Name: name, Body: body}
}

// Name returns the pending file's name.
func (s *Slot) Name() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return "", false
	}
	return s.pending.Name, true
}

// Take returns the pending file and empties the slot.
func (s *Slot) Take() *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending
	s.pending = nil
	return p
}

// Clear empties the slot.
func (s *Slot) Clear() {
	s.Take()
}

package models

import (
	"strings"
	"time"
)

// CollectionStatus tracks the delivery state of one live collection.
type CollectionStatus struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Seq          int64     `json:"seq"`
	Count        int       `json:"count"`
	LastSnapshot time.Time `json:"last_snapshot"`
	Stalled      bool      `json:"stalled"`
	LastError    string    `json:"last_error,omitempty"`
}

// NewCollectionStatus creates the status of a just-attached collection.
func NewCollectionStatus(name, path string) *CollectionStatus {
	return &CollectionStatus{Name: name, Path: path}
}

// Delivered records a snapshot and clears any stall.
func (s *CollectionStatus) Delivered(seq int64, count int, at time.Time) {
	s.Seq = seq
	s.Count = count
	s.LastSnapshot = at
	s.Stalled = false
	s.LastError = ""
}

// SetError marks the collection stalled.
func (s *CollectionStatus) SetError(err error) {
	if err == nil {
		return
	}
	s.Stalled = true
	s.LastError = err.Error()
}

// HasError returns true if there's a stored error.
func (s *CollectionStatus) HasError() bool {
	return strings.TrimSpace(s.LastError) != ""
}

// Received reports whether at least one snapshot arrived.
func (s *CollectionStatus) Received() bool {
	return !s.LastSnapshot.IsZero()
}

// Clone returns a copy safe to hand to readers.
func (s *CollectionStatus) Clone() CollectionStatus {
	return *s
}

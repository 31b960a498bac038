package memory

import (
	"context"
	"sync"
)

// PreferenceStore implements ports.PreferenceRepository in memory.
// Safe for concurrent use.
type PreferenceStore struct {
	mu        sync.RWMutex
	outboxOff map[string]bool
}

// NewPreferenceStore creates a new in-memory preference store.
func NewPreferenceStore() *PreferenceStore {
	return &PreferenceStore{outboxOff: make(map[string]bool)}
}

// OutboxEnabled reports whether the principal keeps an outbox.
func (s *PreferenceStore) OutboxEnabled(ctx context.Context, principalID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.outboxOff[principalID], nil
}

// SetOutboxEnabled records the principal's outbox preference.
func (s *PreferenceStore) SetOutboxEnabled(ctx context.Context, principalID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled {
		delete(s.outboxOff, principalID)
	} else {
		s.outboxOff[principalID] = true
	}
	return nil
}

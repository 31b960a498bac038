package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/waypoint/internal/idgen"
	"github.com/aretw0/waypoint/pkg/domain"
)

// ItemStore implements ports.ActionItemRepository in memory.
// Safe for concurrent use.
type ItemStore struct {
	mu    sync.RWMutex
	items map[string]*domain.ActionItem
	keys  map[domain.ItemKey]string
	order []string

	newID idgen.Generator
	now   func() time.Time
}

// ItemOption configures the ItemStore.
type ItemOption func(*ItemStore)

// WithIDGenerator overrides the item ID generator.
func WithIDGenerator(gen idgen.Generator) ItemOption {
	return func(s *ItemStore) {
		s.newID = gen
	}
}

// WithClock overrides the time source used for outbox timestamps.
func WithClock(now func() time.Time) ItemOption {
	return func(s *ItemStore) {
		s.now = now
	}
}

// NewItemStore creates a new in-memory action item store.
func NewItemStore(opts ...ItemOption) *ItemStore {
	s := &ItemStore{
		items: make(map[string]*domain.ActionItem),
		keys:  make(map[domain.ItemKey]string),
		newID: idgen.New,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert stores the item under its key, keeping the identity of an existing item.
func (s *ItemStore) Upsert(ctx context.Context, item *domain.ActionItem) (*domain.ActionItem, error) {
	stored := item.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := stored.Key()
	if id, exists := s.keys[key]; exists {
		current := s.items[id]
		if stored.Version != 0 && stored.Version != current.Version {
			return nil, fmt.Errorf("%w: action item '%s' is at version %d, write carries %d", domain.ErrStaleState, id, current.Version, stored.Version)
		}
		if stored.Version == 0 {
			stored.Outbox, stored.OutboxedAt = current.Outbox, current.OutboxedAt
		}
		stored.ID = current.ID
		stored.CreatedAt = current.CreatedAt
		stored.Version = current.Version + 1
	} else {
		if stored.ID == "" {
			stored.ID = s.newID()
		}
		if old, taken := s.items[stored.ID]; taken {
			// Same ID under a different key: the key fields were edited.
			if stored.Version != old.Version {
				return nil, fmt.Errorf("%w: action item '%s' changed concurrently", domain.ErrStaleState, stored.ID)
			}
			delete(s.keys, old.Key())
			stored.Version = old.Version + 1
		} else {
			stored.Version = 1
			s.order = append(s.order, stored.ID)
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = s.now()
		}
	}

	s.items[stored.ID] = stored
	s.keys[key] = stored.ID
	return stored.Clone(), nil
}

// Get retrieves an item by ID.
func (s *ItemStore) Get(ctx context.Context, id string) (*domain.ActionItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", domain.ErrActionItemNotFound, id)
	}
	return item.Clone(), nil
}

// MoveToOutbox flags an item as outboxed if version matches.
func (s *ItemStore) MoveToOutbox(ctx context.Context, id string, version int) (*domain.ActionItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", domain.ErrActionItemNotFound, id)
	}
	if item.Version != version {
		return nil, fmt.Errorf("%w: action item '%s' is at version %d, write carries %d", domain.ErrStaleState, id, item.Version, version)
	}

	moved := item.Clone()
	moved.Outbox = true
	moved.OutboxedAt = s.now()
	moved.Version++
	s.items[id] = moved
	return moved.Clone(), nil
}

// Delete erases an item. Deleting a missing item is a no-op.
func (s *ItemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil
	}
	delete(s.items, id)
	delete(s.keys, item.Key())
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Find returns copies of the matching items in insertion order.
func (s *ItemStore) Find(ctx context.Context, query domain.ItemQuery) ([]*domain.ActionItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.ActionItem
	for _, id := range s.order {
		if item := s.items[id]; query.Matches(item) {
			out = append(out, item.Clone())
		}
	}
	return out, nil
}

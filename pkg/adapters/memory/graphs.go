package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/waypoint/pkg/domain"
)

// GraphStore implements ports.GraphRepository in memory.
// Safe for concurrent use.
type GraphStore struct {
	data map[string]*domain.Graph
	mu   sync.RWMutex
}

// NewGraphStore creates a new in-memory graph store.
func NewGraphStore() *GraphStore {
	return &GraphStore{
		data: make(map[string]*domain.Graph),
	}
}

// Save persists a copy of the graph if its version matches the stored one.
func (s *GraphStore) Save(ctx context.Context, graph *domain.Graph) error {
	id := graph.DocumentID()
	if id == "" {
		return fmt.Errorf("graph without document id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := 0
	if stored, ok := s.data[id]; ok {
		current = stored.Version
	}
	if graph.Version != current {
		return fmt.Errorf("%w: document '%s' is at version %d, write carries %d", domain.ErrStaleState, id, current, graph.Version)
	}

	graph.Version++
	s.data[id] = graph.Clone()
	return nil
}

// Load returns a copy of the stored graph so callers can't mutate store state by pointer.
func (s *GraphStore) Load(ctx context.Context, documentID string) (*domain.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	graph, ok := s.data[documentID]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", domain.ErrDocumentNotFound, documentID)
	}
	return graph.Clone(), nil
}

// Delete removes the graph.
func (s *GraphStore) Delete(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, documentID)
	return nil
}

// List returns all document IDs in sorted order.
func (s *GraphStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

package document

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/aretw0/waypoint/internal/logging"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed document lock survives a crashed holder.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager serializes mutations of a single document's graph while letting different
// documents proceed in parallel. Unused locks are garbage collected by reference counting.
type Manager struct {
	store ports.GraphRepository

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the expiry of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new document Manager over the given graph repository.
func NewManager(store ports.GraphRepository, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(documentID) after unlocking.
func (m *Manager) acquire(documentID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[documentID]
	if !exists {
		entry = &lockEntry{}
		m.locks[documentID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(documentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[documentID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, documentID)
	}
}

// Load retrieves a document graph under the document lock.
func (m *Manager) Load(ctx context.Context, documentID string) (*domain.Graph, error) {
	var graph *domain.Graph
	err := m.WithLock(ctx, documentID, func(ctx context.Context) error {
		var err error
		graph, err = m.store.Load(ctx, documentID)
		return err
	})
	return graph, err
}

// Step is a unit of work run against a document graph while its lock is held.
type Step func(context.Context, *domain.Graph) error

// Create persists a new graph. It fails with domain.ErrIllegalState if the document
// was already routed. The then steps run after the save, still under the lock.
func (m *Manager) Create(ctx context.Context, graph *domain.Graph, then ...Step) error {
	return m.WithLock(ctx, graph.DocumentID(), func(ctx context.Context) error {
		_, err := m.store.Load(ctx, graph.DocumentID())
		if err == nil {
			return fmt.Errorf("%w: document '%s' is already routed", domain.ErrIllegalState, graph.DocumentID())
		}
		if !errors.Is(err, domain.ErrDocumentNotFound) {
			return fmt.Errorf("failed to check document existence: %w", err)
		}
		if err := m.store.Save(ctx, graph); err != nil {
			return err
		}
		return run(ctx, graph, then)
	})
}

// Update loads the graph, applies fn and saves the result, all under the document lock.
// A failing fn leaves the stored graph untouched. A concurrent writer on another replica
// surfaces as domain.ErrStaleState. The then steps run after a successful save; their
// failure does not roll the save back.
func (m *Manager) Update(ctx context.Context, documentID string, fn Step, then ...Step) (*domain.Graph, error) {
	var graph *domain.Graph
	err := m.WithLock(ctx, documentID, func(ctx context.Context) error {
		var err error
		graph, err = m.store.Load(ctx, documentID)
		if err != nil {
			return err
		}
		if err := fn(ctx, graph); err != nil {
			return err
		}
		if err := m.store.Save(ctx, graph); err != nil {
			return err
		}
		return run(ctx, graph, then)
	})
	if err != nil {
		return nil, err
	}
	return graph, nil
}

// View loads the graph under the document lock and hands it to fn without saving.
func (m *Manager) View(ctx context.Context, documentID string, fn Step) error {
	return m.WithLock(ctx, documentID, func(ctx context.Context) error {
		graph, err := m.store.Load(ctx, documentID)
		if err != nil {
			return err
		}
		return fn(ctx, graph)
	})
}

func run(ctx context.Context, graph *domain.Graph, steps []Step) error {
	for _, step := range steps {
		if step == nil {
			continue
		}
		if err := step(ctx, graph); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the document graph.
func (m *Manager) Delete(ctx context.Context, documentID string) error {
	return m.WithLock(ctx, documentID, func(ctx context.Context) error {
		return m.store.Delete(ctx, documentID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying graph repository.
func (m *Manager) Store() ports.GraphRepository {
	return m.store
}

// WithLock executes a function while holding the lock for the document.
func (m *Manager) WithLock(ctx context.Context, documentID string, fn func(context.Context) error) error {
	entry := m.acquire(documentID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(documentID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, documentID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"document_id", documentID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

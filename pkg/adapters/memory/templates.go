package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/waypoint/internal/validator"
	"github.com/aretw0/waypoint/pkg/domain"
)

// TemplateStore implements ports.TemplateStore in memory.
// Safe for concurrent use.
type TemplateStore struct {
	mu       sync.RWMutex
	versions map[string][]*domain.Template
	byType   map[string]string
}

// NewTemplateStore creates an empty template store.
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{
		versions: make(map[string][]*domain.Template),
		byType:   make(map[string]string),
	}
}

// Publish validates the template and stores a copy as the next version.
func (s *TemplateStore) Publish(ctx context.Context, template *domain.Template) (*domain.Template, error) {
	if err := validator.ValidateTemplate(template); err != nil {
		return nil, err
	}

	stored := template.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	stored.Version = len(s.versions[stored.Name]) + 1
	s.versions[stored.Name] = append(s.versions[stored.Name], stored)
	s.byType[stored.DocumentType] = stored.Name
	return stored.Clone(), nil
}

// Get returns the latest version of a template.
func (s *TemplateStore) Get(ctx context.Context, name string) (*domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[name]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: '%s'", domain.ErrTemplateNotFound, name)
	}
	return versions[len(versions)-1].Clone(), nil
}

// GetVersion returns a specific version of a template.
func (s *TemplateStore) GetVersion(ctx context.Context, name string, version int) (*domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[name]
	if version < 1 || version > len(versions) {
		return nil, fmt.Errorf("%w: '%s' version %d", domain.ErrTemplateNotFound, name, version)
	}
	return versions[version-1].Clone(), nil
}

// ForDocumentType returns the template most recently published for a document type.
func (s *TemplateStore) ForDocumentType(ctx context.Context, documentType string) (*domain.Template, error) {
	s.mu.RLock()
	name, ok := s.byType[documentType]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no template for document type '%s'", domain.ErrTemplateNotFound, documentType)
	}
	return s.Get(ctx, name)
}

// List returns the template names in sorted order.
func (s *TemplateStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.versions))
	for name := range s.versions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

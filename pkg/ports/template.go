package ports

import (
	"context"

	"github.com/aretw0/waypoint/pkg/domain"
)

// TemplateStore holds published routing templates.
// Published templates are immutable: publishing the same name again creates a new version,
// and documents already routed keep the version they started with.
type TemplateStore interface {
	// Publish validates and stores a template, assigning its version.
	// Returns an error wrapping domain.ErrInvalidTemplate if validation fails.
	Publish(ctx context.Context, template *domain.Template) (*domain.Template, error)

	// Get returns the latest version of the named template.
	// Returns domain.ErrTemplateNotFound if the name is unknown.
	Get(ctx context.Context, name string) (*domain.Template, error)

	// GetVersion returns a specific version of the named template.
	GetVersion(ctx context.Context, name string, version int) (*domain.Template, error)

	// ForDocumentType returns the latest template bound to a document type.
	ForDocumentType(ctx context.Context, documentType string) (*domain.Template, error)

	// List returns the names of all published templates.
	List(ctx context.Context) ([]string, error)
}

// TemplateSource loads template definitions from an external location (files, a loam repository).
type TemplateSource interface {
	Templates(ctx context.Context) ([]*domain.Template, error)
}

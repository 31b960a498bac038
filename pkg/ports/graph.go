package ports

import (
	"context"

	"github.com/aretw0/waypoint/pkg/domain"
)

// GraphRepository persists per-document node instance graphs.
type GraphRepository interface {
	// Load retrieves the graph of a document.
	// Returns domain.ErrDocumentNotFound if the document was never routed.
	Load(ctx context.Context, documentID string) (*domain.Graph, error)

	// Save persists the graph if graph.Version matches the stored version (0 for a new graph).
	// On success graph.Version is incremented. On conflict it returns domain.ErrStaleState
	// and stores nothing.
	Save(ctx context.Context, graph *domain.Graph) error

	// Delete removes the graph of a document.
	Delete(ctx context.Context, documentID string) error

	// List returns the IDs of all stored documents.
	List(ctx context.Context) ([]string, error)
}

package middleware

import (
	"context"

	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/ports"
)

// Middleware wraps a GraphRepository to add behavior.
type Middleware func(ports.GraphRepository) ports.GraphRepository

// Chain applies middlewares so the first one listed sees graphs first on Save.
func Chain(repo ports.GraphRepository, mws ...Middleware) ports.GraphRepository {
	for i := len(mws) - 1; i >= 0; i-- {
		repo = mws[i](repo)
	}
	return repo
}

// saveCopy persists a transformed clone of graph. The caller's graph is left untouched
// except for the version bump the repository applied to the clone.
func saveCopy(ctx context.Context, next ports.GraphRepository, graph *domain.Graph, transform func(*domain.Graph) error) error {
	c := graph.Clone()
	if err := transform(c); err != nil {
		return err
	}
	if err := next.Save(ctx, c); err != nil {
		return err
	}
	graph.Version = c.Version
	return nil
}

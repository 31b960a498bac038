package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/ports"
)

// Masked replaces node state values whose key matches a PII pattern.
const Masked = "***"

type piiMiddleware struct {
	next     ports.GraphRepository
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks node state values of keys matching
// the patterns before they reach the repository. Masking is one-way: loaded graphs carry
// the mask, not the original value.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pii pattern '%s': %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.GraphRepository) ports.GraphRepository {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Save(ctx context.Context, graph *domain.Graph) error {
	return saveCopy(ctx, m.next, graph, func(g *domain.Graph) error {
		for _, inst := range g.Instances() {
			for i, st := range inst.State {
				if m.matches(st.Key) {
					inst.State[i].Value = Masked
				}
			}
		}
		return nil
	})
}

func (m *piiMiddleware) Load(ctx context.Context, documentID string) (*domain.Graph, error) {
	return m.next.Load(ctx, documentID)
}

func (m *piiMiddleware) Delete(ctx context.Context, documentID string) error {
	return m.next.Delete(ctx, documentID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *piiMiddleware) matches(key string) bool {
	for _, p := range m.patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}

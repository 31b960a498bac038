package actionlist

import (
	"errors"
	"fmt"
	"sync"
	"time"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"github.com/aretw0/waypoint/pkg/domain"
)

// ErrInvalidFilter is returned when a filter expression does not compile to a boolean predicate.
var ErrInvalidFilter = errors.New("invalid action list filter")

// programCache keeps compiled filter expressions keyed by source text.
type programCache struct {
	mu       sync.RWMutex
	programs map[string]*exprvm.Program
}

func newProgramCache() *programCache {
	return &programCache{programs: make(map[string]*exprvm.Program)}
}

func (c *programCache) loadOrCompile(expression string) (*exprvm.Program, error) {
	c.mu.RLock()
	program, ok := c.programs[expression]
	c.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := exprlang.Compile(expression,
		exprlang.Env(environment(&domain.ActionItem{}, time.Time{})),
		exprlang.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	c.mu.Lock()
	c.programs[expression] = program
	c.mu.Unlock()
	return program, nil
}

// environment exposes an item to filter expressions under its JSON field names.
func environment(item *domain.ActionItem, now time.Time) map[string]any {
	return map[string]any{
		"id":            item.ID,
		"document_id":   item.DocumentID,
		"document_type": item.DocumentType,
		"title":         item.Title,
		"node":          item.Node,
		"principal_id":  item.PrincipalID,
		"action":        string(item.Action),
		"delegation":    string(item.Delegation),
		"delegator_id":  item.DelegatorID,
		"moot":          item.Moot,
		"created_at":    item.CreatedAt,
		"now":           now,
	}
}

// apply returns the items matching filter. The input slice is not modified.
func (c *programCache) apply(items []*domain.ActionItem, filter domain.ActionListFilter, now time.Time) ([]*domain.ActionItem, error) {
	var program *exprvm.Program
	if filter.Expression != "" {
		var err error
		if program, err = c.loadOrCompile(filter.Expression); err != nil {
			return nil, err
		}
	}

	out := make([]*domain.ActionItem, 0, len(items))
	for _, item := range items {
		if !filter.Match(item) {
			continue
		}
		if program != nil {
			result, err := exprlang.Run(program, environment(item, now))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
			}
			if ok, _ := result.(bool); !ok {
				continue
			}
		}
		out = append(out, item)
	}
	return out, nil
}

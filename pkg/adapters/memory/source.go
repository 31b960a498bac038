package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/aretw0/waypoint/internal/compiler"
	"github.com/aretw0/waypoint/pkg/domain"
)

// Source implements ports.TemplateSource over in-memory template definitions.
type Source struct {
	raw       map[string][]byte
	templates []*domain.Template
}

// NewSource creates a Source from raw YAML or JSON definitions keyed by an arbitrary label.
func NewSource(data map[string]string) *Source {
	raw := make(map[string][]byte, len(data))
	for k, v := range data {
		raw[k] = []byte(v)
	}
	return &Source{raw: raw}
}

// NewSourceFromTemplates creates a Source from domain objects.
func NewSourceFromTemplates(templates ...*domain.Template) *Source {
	return &Source{templates: templates}
}

// Templates parses the raw definitions (in label order) and returns them with the prebuilt ones.
func (s *Source) Templates(ctx context.Context) ([]*domain.Template, error) {
	labels := make([]string, 0, len(s.raw))
	for k := range s.raw {
		labels = append(labels, k)
	}
	sort.Strings(labels) // Deterministic order

	parser := compiler.NewParser()
	out := make([]*domain.Template, 0, len(labels)+len(s.templates))
	for _, label := range labels {
		tpl, err := parser.Parse(s.raw[label])
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", label, err)
		}
		out = append(out, tpl)
	}
	for _, tpl := range s.templates {
		out = append(out, tpl.Clone())
	}
	return out, nil
}

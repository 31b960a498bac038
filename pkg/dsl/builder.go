package dsl

import (
	"fmt"

	"github.com/aretw0/waypoint/internal/validator"
	"github.com/aretw0/waypoint/pkg/domain"
)

// Scope holds the nodes of one level of a template: the top level or a process body.
type Scope struct {
	nodes []*NodeBuilder
	index map[string]*NodeBuilder
}

func newScope() *Scope {
	return &Scope{index: make(map[string]*NodeBuilder)}
}

// Add creates a new node in the scope.
// If the node already exists, it returns the existing builder.
func (s *Scope) Add(name string) *NodeBuilder {
	if nb, ok := s.index[name]; ok {
		return nb
	}
	nb := &NodeBuilder{node: domain.NodeTemplate{Name: name}, scope: s}
	s.index[name] = nb
	s.nodes = append(s.nodes, nb)
	return nb
}

func (s *Scope) build() []*domain.NodeTemplate {
	nodes := make([]*domain.NodeTemplate, 0, len(s.nodes))
	for _, nb := range s.nodes {
		nodes = append(nodes, nb.Build())
	}
	return nodes
}

// Builder manages the template construction.
type Builder struct {
	*Scope
	template domain.Template
}

// New creates a new template builder.
func New(name string) *Builder {
	return &Builder{
		Scope:    newScope(),
		template: domain.Template{Name: name},
	}
}

// ForDocumentType binds the template to a document type.
func (b *Builder) ForDocumentType(documentType string) *Builder {
	b.template.DocumentType = documentType
	return b
}

// Describe sets the template description.
func (b *Builder) Describe(description string) *Builder {
	b.template.Description = description
	return b
}

// Entry names the entry node. It defaults to the first node added.
func (b *Builder) Entry(name string) *Builder {
	b.template.Entry = name
	return b
}

// Build assembles and validates the template.
func (b *Builder) Build() (*domain.Template, error) {
	tpl := b.template
	if tpl.Entry == "" && len(b.nodes) > 0 {
		tpl.Entry = b.nodes[0].node.Name
	}
	tpl.Nodes = b.build()

	if err := validator.ValidateTemplate(&tpl); err != nil {
		return nil, fmt.Errorf("failed to build template: %w", err)
	}
	return &tpl, nil
}

// MustBuild is like Build but panics on an invalid template. Intended for tests and examples.
func (b *Builder) MustBuild() *domain.Template {
	tpl, err := b.Build()
	if err != nil {
		panic(err)
	}
	return tpl
}

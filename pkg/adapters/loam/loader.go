package loam

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aretw0/loam"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// Source adapts a Loam repository to the ports.TemplateSource interface.
// Each document is one template: the frontmatter carries the node list and the body, when
// present, becomes the description.
type Source struct {
	Repo *loam.TypedRepository[TemplateMetadata]
}

// New creates a new Loam template source.
func New(repo *loam.TypedRepository[TemplateMetadata]) *Source {
	return &Source{
		Repo: repo,
	}
}

// Open initializes a read-only Loam repository at path.
//
// Strict mode keeps numeric types consistent across the JSON and Markdown/YAML adapters.
// Read-only mode avoids Loam's sandbox behavior in dev mode.
func Open(path string) (*Source, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return New(loam.NewTypedRepository[TemplateMetadata](repo)), nil
}

// Templates lists and converts every template document. List only carries metadata, so each
// document is fetched again to read its body.
func (s *Source) Templates(ctx context.Context) ([]*domain.Template, error) {
	docs, err := s.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string)
	out := make([]*domain.Template, 0, len(docs))
	for _, doc := range docs {
		tpl, err := s.Template(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		if existing, ok := seen[tpl.Name]; ok {
			return nil, fmt.Errorf("collision detected: template '%s' is defined in both '%s' and '%s'", tpl.Name, existing, doc.ID)
		}
		seen[tpl.Name] = doc.ID
		out = append(out, tpl)
	}
	return out, nil
}

// Template loads a single template document by ID (the extension may be omitted).
func (s *Source) Template(ctx context.Context, id string) (*domain.Template, error) {
	doc, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loam get failed for %s: %w", id, err)
	}
	return convertTemplate(doc.ID, doc.Data, doc.Content)
}

// Watch reports the IDs of template documents as they change.
func (s *Source) Watch(ctx context.Context) (<-chan string, error) {
	events, err := s.Repo.Watch(ctx, "**/*.{md,json,yaml,yml}")
	if err != nil {
		return nil, fmt.Errorf("failed to start loam watcher: %w", err)
	}

	ch := make(chan string, 1)
	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				select {
				case ch <- trimExtension(evt.ID):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func convertTemplate(docID string, meta TemplateMetadata, content string) (*domain.Template, error) {
	name := meta.Name
	if name == "" {
		name = trimExtension(docID)
	}
	description := meta.Description
	if description == "" {
		description = strings.TrimSpace(content)
	}

	nodes, err := convertNodes(meta.Nodes)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	return &domain.Template{
		Name:         name,
		DocumentType: meta.DocumentType,
		Description:  description,
		Entry:        meta.Entry,
		Nodes:        nodes,
	}, nil
}

func convertNodes(metas []NodeMetadata) ([]*domain.NodeTemplate, error) {
	if len(metas) == 0 {
		return nil, nil
	}
	nodes := make([]*domain.NodeTemplate, 0, len(metas))
	for _, meta := range metas {
		recipients, err := convertRecipients(meta.Recipients)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", meta.Name, err)
		}
		children, err := convertNodes(meta.Nodes)
		if err != nil {
			return nil, err
		}

		next := append([]string(nil), meta.Next...)
		if meta.To != "" {
			next = append(next, meta.To)
		}
		nodes = append(nodes, &domain.NodeTemplate{
			Name:       meta.Name,
			Type:       domain.NodeType(meta.Type),
			Next:       next,
			Recipients: recipients,
			Action:     domain.ActionType(meta.Action),
			Policy:     domain.Policy(meta.Policy),
			Entry:      meta.Entry,
			Nodes:      children,
		})
	}
	return nodes, nil
}

// convertRecipients decodes the polymorphic recipient list (strings or maps).
func convertRecipients(raw []any) ([]domain.Recipient, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]domain.Recipient, 0, len(raw))
	for _, item := range raw {
		var meta RecipientMetadata
		switch v := item.(type) {
		case string:
			kind, id, found := strings.Cut(v, ":")
			if !found {
				kind, id = string(domain.RecipientPrincipal), v
			}
			meta = RecipientMetadata{Kind: kind, ID: id}
		case map[string]any, map[any]any:
			if err := mapstructure.Decode(v, &meta); err != nil {
				return nil, fmt.Errorf("failed to decode recipient: %w", err)
			}
		default:
			return nil, fmt.Errorf("invalid recipient definition type: %T", v)
		}

		kind := domain.RecipientKind(strings.TrimSpace(meta.Kind))
		switch kind {
		case domain.RecipientPrincipal, domain.RecipientRole, domain.RecipientGroup:
		default:
			return nil, fmt.Errorf("unknown recipient kind '%s'", meta.Kind)
		}
		if meta.ID == "" {
			return nil, fmt.Errorf("recipient of kind '%s' missing id", kind)
		}
		out = append(out, domain.Recipient{Kind: kind, ID: strings.TrimSpace(meta.ID)})
	}
	return out, nil
}

func trimExtension(id string) string {
	ext := filepath.Ext(id)
	if ext != "" {
		return filepath.ToSlash(strings.TrimSuffix(id, ext))
	}
	return filepath.ToSlash(id)
}

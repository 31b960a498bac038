package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/waypoint/pkg/domain"
)

// AnyDocumentType registers a delegation that applies to every document type.
const AnyDocumentType = "*"

// Directory implements ports.Directory over in-memory role, group and delegation tables.
// Safe for concurrent use.
type Directory struct {
	mu        sync.RWMutex
	roles     map[string][]string
	groups    map[string][]string
	primary   map[string]map[string]string
	secondary map[string]map[string][]string
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		roles:     make(map[string][]string),
		groups:    make(map[string][]string),
		primary:   make(map[string]map[string]string),
		secondary: make(map[string]map[string][]string),
	}
}

// AddRoleMembers adds principals to a role.
func (d *Directory) AddRoleMembers(role string, principals ...string) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[role] = appendUnique(d.roles[role], principals...)
	return d
}

// SetRoleMembers replaces the members of a role.
func (d *Directory) SetRoleMembers(role string, principals ...string) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[role] = appendUnique(nil, principals...)
	return d
}

// AddGroupMembers adds principals to a group.
func (d *Directory) AddGroupMembers(group string, principals ...string) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups[group] = appendUnique(d.groups[group], principals...)
	return d
}

// SetPrimaryDelegate makes delegate act instead of principal for documentType.
// Use AnyDocumentType to cover every type. An empty delegate removes the delegation.
func (d *Directory) SetPrimaryDelegate(principal, documentType, delegate string) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.primary[principal] == nil {
		d.primary[principal] = make(map[string]string)
	}
	if delegate == "" {
		delete(d.primary[principal], documentType)
	} else {
		d.primary[principal][documentType] = delegate
	}
	return d
}

// AddSecondaryDelegate gives delegate a parallel copy of principal's requests for documentType.
func (d *Directory) AddSecondaryDelegate(principal, documentType, delegate string) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.secondary[principal] == nil {
		d.secondary[principal] = make(map[string][]string)
	}
	d.secondary[principal][documentType] = appendUnique(d.secondary[principal][documentType], delegate)
	return d
}

// ResolveRecipients expands a recipient to principal IDs.
func (d *Directory) ResolveRecipients(ctx context.Context, recipient domain.Recipient) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	switch recipient.Kind {
	case domain.RecipientPrincipal:
		return []string{recipient.ID}, nil
	case domain.RecipientRole:
		return append([]string(nil), d.roles[recipient.ID]...), nil
	case domain.RecipientGroup:
		return append([]string(nil), d.groups[recipient.ID]...), nil
	}
	return nil, fmt.Errorf("unknown recipient kind '%s'", recipient.Kind)
}

// PrimaryDelegate returns the primary delegate of principalID for documentType, or "".
func (d *Directory) PrimaryDelegate(ctx context.Context, principalID, documentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	byType := d.primary[principalID]
	if delegate, ok := byType[documentType]; ok {
		return delegate, nil
	}
	return byType[AnyDocumentType], nil
}

// SecondaryDelegates returns the secondary delegates of principalID for documentType.
func (d *Directory) SecondaryDelegates(ctx context.Context, principalID, documentType string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	byType := d.secondary[principalID]
	out := appendUnique(nil, byType[documentType]...)
	return appendUnique(out, byType[AnyDocumentType]...), nil
}

// SecondaryDelegators returns every principal that named principalID as a secondary delegate.
func (d *Directory) SecondaryDelegators(ctx context.Context, principalID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []string
	for delegator, byType := range d.secondary {
		for _, delegates := range byType {
			for _, delegate := range delegates {
				if delegate == principalID {
					out = appendUnique(out, delegator)
				}
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range list {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}

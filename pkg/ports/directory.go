package ports

import (
	"context"

	"github.com/aretw0/waypoint/pkg/domain"
)

// Directory is the identity boundary used to resolve recipients and delegations.
// Every call is made under a bounded context; implementations must honour cancellation.
type Directory interface {
	// ResolveRecipients expands a recipient to principal IDs. A principal resolves to itself.
	ResolveRecipients(ctx context.Context, recipient domain.Recipient) ([]string, error)

	// PrimaryDelegate returns the principal that replaces principalID for documentType, or "".
	PrimaryDelegate(ctx context.Context, principalID, documentType string) (string, error)

	// SecondaryDelegates returns the principals that receive a parallel copy of principalID's requests.
	SecondaryDelegates(ctx context.Context, principalID, documentType string) ([]string, error)

	// SecondaryDelegators returns the principals that named principalID as a secondary delegate.
	SecondaryDelegators(ctx context.Context, principalID string) ([]string, error)
}

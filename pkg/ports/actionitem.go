package ports

import (
	"context"

	"github.com/aretw0/waypoint/pkg/domain"
)

// ActionItemRepository persists action items.
type ActionItemRepository interface {
	// Upsert stores an item keyed by (document, node instance, principal, action).
	//
	// When an item with the same key exists, its ID and creation time are kept. If the incoming
	// item carries a non-zero Version that differs from the stored one, domain.ErrStaleState is
	// returned. A write with Version 0 keeps the stored Outbox and OutboxedAt, so only a
	// versioned write can move an outboxed item back. The stored copy, with its new Version,
	// is returned.
	Upsert(ctx context.Context, item *domain.ActionItem) (*domain.ActionItem, error)

	// Get retrieves an item by ID. Returns domain.ErrActionItemNotFound if missing.
	Get(ctx context.Context, id string) (*domain.ActionItem, error)

	// MoveToOutbox transitions an active item to the outbox if version matches.
	MoveToOutbox(ctx context.Context, id string, version int) (*domain.ActionItem, error)

	// Delete erases an item.
	Delete(ctx context.Context, id string) error

	// Find returns the items matching query, oldest first.
	Find(ctx context.Context, query domain.ItemQuery) ([]*domain.ActionItem, error)
}

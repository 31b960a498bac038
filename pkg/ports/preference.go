package ports

import "context"

// PreferenceRepository persists per-principal action list preferences so that every replica
// sharing a store sees the same settings.
type PreferenceRepository interface {
	// OutboxEnabled reports whether the principal keeps an outbox. Principals that never set
	// a preference have it enabled.
	OutboxEnabled(ctx context.Context, principalID string) (bool, error)

	// SetOutboxEnabled records the principal's outbox preference.
	SetOutboxEnabled(ctx context.Context, principalID string, enabled bool) error
}

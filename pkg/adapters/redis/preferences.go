package redis

import (
	"context"
	"fmt"

	backend "github.com/redis/go-redis/v9"
)

// PreferenceStore implements ports.PreferenceRepository using Redis.
// Principals with the outbox turned off are members of a single set.
type PreferenceStore struct {
	client *backend.Client
	opts   options
}

// NewPreferenceStore creates a preference store on an existing client.
func NewPreferenceStore(client *backend.Client, opts ...Option) *PreferenceStore {
	return &PreferenceStore{
		client: client,
		opts:   newOptions(opts),
	}
}

func (s *PreferenceStore) outboxOffKey() string {
	return s.opts.prefix + "prefs:outbox-off"
}

// OutboxEnabled reports whether the principal keeps an outbox.
func (s *PreferenceStore) OutboxEnabled(ctx context.Context, principalID string) (bool, error) {
	off, err := s.client.SIsMember(ctx, s.outboxOffKey(), principalID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read outbox preference: %w", err)
	}
	return !off, nil
}

// SetOutboxEnabled records the principal's outbox preference.
func (s *PreferenceStore) SetOutboxEnabled(ctx context.Context, principalID string, enabled bool) error {
	var err error
	if enabled {
		err = s.client.SRem(ctx, s.outboxOffKey(), principalID).Err()
	} else {
		err = s.client.SAdd(ctx, s.outboxOffKey(), principalID).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to write outbox preference: %w", err)
	}
	return nil
}

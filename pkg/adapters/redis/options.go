// Package redis provides Redis-backed graph and action item stores and a distributed locker,
// so that several engine replicas can share routing state.
package redis

import (
	"time"

	"github.com/aretw0/waypoint/internal/idgen"
	backend "github.com/redis/go-redis/v9"
)

const defaultPrefix = "waypoint:"

type options struct {
	prefix string
	newID  idgen.Generator
	now    func() time.Time
}

// Option configures the Redis stores.
type Option func(*options)

// WithPrefix sets the key prefix shared by every key the store writes.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithIDGenerator overrides the action item ID generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(o *options) {
		o.newID = gen
	}
}

// WithClock overrides the time source used for item timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func newOptions(opts []Option) options {
	o := options{
		prefix: defaultPrefix,
		newID:  idgen.New,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewClient creates a Redis client for the given address.
func NewClient(address, password string, db int) *backend.Client {
	return backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
}

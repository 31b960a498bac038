package ports

import (
	"context"
	"time"
)

// UnlockFunc is a function that releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker defines the interface for distributed concurrency control.
// It lets the document manager serialize mutations of one document across replicas.
type DistributedLocker interface {
	// Lock acquires a lock for key (a document ID). It blocks until the lock is acquired
	// or the context is canceled. The lock expires after ttl if never released.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// Package idgen wraps the UUID generator. Callers treat identifiers as opaque strings.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique identifiers.
type Generator func() string

// New returns a new globally unique identifier.
func New() string { return uuid.New().String() }

// Sequence returns a deterministic generator ("prefix-1", "prefix-2", ...) for tests and demos.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

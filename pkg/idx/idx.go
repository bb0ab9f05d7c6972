// Package idx generates push keys: backend-issued, lexicographically sortable
// record identifiers. Keys are ULIDs, so sorting children by key yields
// creation order.
package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrInvalid reports a malformed push key.
var ErrInvalid = errors.New("idx: invalid push key")

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// NewKey returns a new push key. Keys generated by the same process are
// strictly increasing; keys generated by different processes still sort
// roughly by creation time.
func NewKey() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// Validate checks that s is a well-formed push key.
func Validate(s string) error {
	if _, err := ulid.ParseStrict(strings.TrimSpace(s)); err != nil {
		return ErrInvalid
	}
	return nil
}

// Time extracts the creation timestamp embedded in a push key. Invalid keys
// yield the zero time.
func Time(s string) time.Time {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}

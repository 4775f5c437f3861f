// Package idgen provides ID generators for documents, connections and list items.
package idgen

import (
	"crypto/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/artpar/livesync/ports"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// UUID generates random v4 UUIDs. Used for document and connection ids.
type UUID struct{}

// New generates a new UUID v4.
func (UUID) New() string {
	return uuid.New().String()
}

// ULID generates lexicographically sortable ids, monotonic within a millisecond.
type ULID struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// NewULID creates a ULID generator reading time from clock. A nil clock uses time.Now.
func NewULID(clock ports.Clock) *ULID {
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	return &ULID{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     now,
	}
}

// New generates the next ULID.
func (g *ULID) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy).String()
}

// Sequential generates prefixed counter ids (for testing).
type Sequential struct {
	prefix  string
	counter uint64
}

// NewSequential creates a sequential ID generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New generates the next sequential ID.
func (s *Sequential) New() string {
	n := atomic.AddUint64(&s.counter, 1)
	return s.prefix + strconv.FormatUint(n, 10)
}

// Reset resets the counter.
func (s *Sequential) Reset() {
	atomic.StoreUint64(&s.counter, 0)
}

// Ensure interface compliance.
var (
	_ ports.IDGenerator = UUID{}
	_ ports.IDGenerator = (*ULID)(nil)
	_ ports.IDGenerator = (*Sequential)(nil)
)

// Package ids generates primary keys for new rows
package ids

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator produces a new unique primary key
type Generator interface {
	NewID() string
}

// UUID generates random (version 4) UUIDs
type UUID struct{}

// NewID returns a new UUID v4
func (UUID) NewID() string {
	return uuid.New().String()
}

// ULID generates lexicographically sortable identifiers. IDs produced in
// the same millisecond are monotonic.
type ULID struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewULID creates a ULID generator reading entropy from crypto/rand
func NewULID() *ULID {
	return &ULID{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// NewID returns a new ULID
func (g *ULID) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy).String()
}

// ForStrategy returns the generator named by strategy ("uuid" or "ulid")
func ForStrategy(strategy string) (Generator, error) {
	switch strategy {
	case "", "uuid":
		return UUID{}, nil
	case "ulid":
		return NewULID(), nil
	}
	return nil, fmt.Errorf("unknown id strategy %q", strategy)
}

// Package id issues ULIDs for orders, fills and trades.
package id

import (
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces ULIDs stamped with bar time instead of wall-clock time,
// so a replayed backtest yields the same ids for the same seed.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	last    time.Time
}

// NewGenerator returns a deterministic generator for the given seed.
// ulid.Monotonic keeps ids within one millisecond increasing.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
	}
}

// At returns a new id stamped with t. Timestamps that move backwards are
// clamped to the last one seen so ids stay sortable.
func (g *Generator) At(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t.Before(g.last) {
		t = g.last
	}
	g.last = t

	id, err := ulid.New(ulid.Timestamp(t.UTC()), g.entropy)
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Package runid generates invocation run identifiers.
package runid

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator produces run ids.
type Generator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 run ids, so listing runs
// by id lists them by start time.
//
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a hyphenated UUIDv7, e.g.
// "01927b3c-5a4e-7d12-8f3e-2b6c1a9d0e47".
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Valid reports whether id parses as a UUID.
func Valid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// SequenceGenerator returns prefix-1, prefix-2, ... for deterministic runs
// in tests and golden scenarios.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a SequenceGenerator. An empty prefix is
// "run".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "run"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id in the sequence.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// FixedGenerator returns predetermined ids in order and panics once they
// are exhausted.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a FixedGenerator.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("runid: FixedGenerator exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

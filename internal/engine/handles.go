package engine

import (
	"sync"

	"github.com/google/uuid"
)

// HandlePrefix starts every generated module handle.
const HandlePrefix = "module-"

// HandleGenerator produces module handles. Handles are never reused
// within one engine.
type HandleGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable handles of the form
// "module-<uuidv7>".
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new handle. Panics if UUID generation fails.
func (g UUIDv7Generator) Generate() string {
	return HandlePrefix + uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined handles for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator creates a generator that returns handles in order.
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next predetermined handle.
//
// Panics if all handles have been consumed, which catches a test that
// loads more modules than it expects.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("FixedGenerator: all handles exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}

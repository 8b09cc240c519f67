package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequentialHandles generates module handles "<prefix>1", "<prefix>2", ...
//
// Unlike engine.FixedGenerator it never runs out, so a scenario can load
// any number of modules and still produce byte-identical output.
//
// Thread-safety: safe for concurrent use.
type SequentialHandles struct {
	prefix string
	n      atomic.Int64
}

// NewSequentialHandles creates a generator. An empty prefix means
// "module-test-".
func NewSequentialHandles(prefix string) *SequentialHandles {
	if prefix == "" {
		prefix = "module-test-"
	}
	return &SequentialHandles{prefix: prefix}
}

// Generate returns the next handle.
func (g *SequentialHandles) Generate() string {
	return fmt.Sprintf("%s%d", g.prefix, g.n.Add(1))
}

// Reset restarts numbering at 1.
func (g *SequentialHandles) Reset() {
	g.n.Store(0)
}

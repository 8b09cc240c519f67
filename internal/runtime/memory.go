package runtime

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrNullPointer is returned when a null pointer is dereferenced.
var ErrNullPointer = errors.New("null pointer dereference")

// Cells is a buffer of value slots. Concurrent access to distinct slots is
// safe; the slice is never resized.
type Cells struct {
	slots []Value
}

// NewCells returns n slots, each holding a copy of zero.
func NewCells(n int64, zero Value) *Cells {
	c := &Cells{slots: make([]Value, n)}
	for i := range c.slots {
		c.slots[i] = Copy(zero)
	}
	return c
}

// Len returns the number of slots.
func (c *Cells) Len() int64 { return int64(len(c.slots)) }

// Slot returns the value stored in slot i.
func (c *Cells) Slot(i int64) Value { return c.slots[i] }

func (c *Cells) check(p Ptr) error {
	if p.Cells == nil {
		if p.Info != nil {
			return fmt.Errorf("dereference of meminfo handle")
		}
		return ErrNullPointer
	}
	if p.Index < 0 || p.Index >= int64(len(c.slots)) {
		return fmt.Errorf("slot %d out of bounds [0, %d)", p.Index, len(c.slots))
	}
	return nil
}

// Load reads the value p points at.
func Load(p Ptr) (Value, error) {
	if err := p.Cells.check(p); err != nil {
		return nil, err
	}
	v := p.Cells.slots[p.Index]
	if len(p.Path) == 0 {
		return Copy(v), nil
	}
	agg, ok := v.(Aggregate)
	if !ok {
		return nil, fmt.Errorf("field path %v into non-aggregate slot", p.Path)
	}
	f, err := agg.At(p.Path...)
	if err != nil {
		return nil, err
	}
	return Copy(f), nil
}

// Store writes v where p points.
func Store(p Ptr, v Value) error {
	if err := p.Cells.check(p); err != nil {
		return err
	}
	if len(p.Path) == 0 {
		p.Cells.slots[p.Index] = Copy(v)
		return nil
	}
	agg, ok := p.Cells.slots[p.Index].(Aggregate)
	if !ok {
		return fmt.Errorf("field path %v into non-aggregate slot", p.Path)
	}
	updated, err := agg.With(Copy(v), p.Path...)
	if err != nil {
		return err
	}
	p.Cells.slots[p.Index] = updated
	return nil
}

// MemInfo tracks one heap allocation.
type MemInfo struct {
	Buffer *Cells
	refs   atomic.Int64
}

// Refs returns the current reference count.
func (mi *MemInfo) Refs() int64 { return mi.refs.Load() }

// NewMemInfo wraps a buffer owned by the host program. It starts with one
// reference and is not counted as an allocation.
func NewMemInfo(c *Cells) *MemInfo {
	mi := &MemInfo{Buffer: c}
	mi.refs.Store(1)
	return mi
}

// Counters is a snapshot of a runtime's allocation counters.
type Counters struct {
	Allocs      int64 `json:"allocs" yaml:"allocs"`
	Deallocs    int64 `json:"deallocs" yaml:"deallocs"`
	StackAllocs int64 `json:"stack_allocs" yaml:"stack_allocs"`
	LiveTokens  int64 `json:"live_tokens" yaml:"live_tokens"`
}

// AllocMemInfo allocates a heap buffer of n elements with reference count
// one.
func (r *Runtime) AllocMemInfo(n int64, zero Value) *MemInfo {
	r.allocs.Add(1)
	mi := &MemInfo{Buffer: NewCells(n, zero)}
	mi.refs.Store(1)
	return mi
}

// StackAlloc allocates a buffer whose lifetime ends with the caller.
func (r *Runtime) StackAlloc(n int64, zero Value) *Cells {
	r.stackAllocs.Add(1)
	return NewCells(n, zero)
}

// Incref adds a reference to mi.
func (r *Runtime) Incref(mi *MemInfo) {
	if mi != nil {
		mi.refs.Add(1)
	}
}

// Decref drops a reference and frees the buffer when none remain.
func (r *Runtime) Decref(mi *MemInfo) error {
	if mi == nil {
		return nil
	}
	switch n := mi.refs.Add(-1); {
	case n == 0:
		r.deallocs.Add(1)
	case n < 0:
		return fmt.Errorf("meminfo released %d times too often", -n)
	}
	return nil
}

// CreateAllocToken returns a fresh one-slot cell that holds a meminfo
// handle while a buffer crosses a function boundary.
func (r *Runtime) CreateAllocToken() Ptr {
	r.liveTokens.Add(1)
	return Ptr{Cells: NewCells(1, Ptr{})}
}

// DestroyAllocToken releases a token created by CreateAllocToken.
func (r *Runtime) DestroyAllocToken(p Ptr) error {
	if p.IsNull() {
		return ErrNullPointer
	}
	r.liveTokens.Add(-1)
	return nil
}

// TokenInfo returns the meminfo stored in token, or nil for a null token.
func TokenInfo(token Ptr) (*MemInfo, error) {
	if token.IsNull() {
		return nil, nil
	}
	v, err := Load(token)
	if err != nil {
		return nil, err
	}
	p, ok := v.(Ptr)
	if !ok {
		return nil, fmt.Errorf("alloc token holds %v, want meminfo", v)
	}
	return p.Info, nil
}

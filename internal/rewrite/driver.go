package rewrite

import (
	"context"
	"log/slog"

	"github.com/roach88/parlower/internal/ir"
)

// Options configures ApplyGreedily.
type Options struct {
	// MaxRewrites bounds the number of successful pattern applications.
	// Zero means DefaultMaxRewrites.
	MaxRewrites int
	// Logger receives one debug record per applied pattern. Nil uses
	// slog.Default().
	Logger *slog.Logger
	// Pass names the pass in log records.
	Pass string
}

// Stats summarizes one ApplyGreedily run.
type Stats struct {
	Rewrites  int
	Erased    int
	Sweeps    int
	ByPattern map[string]int
}

// Changed reports whether the run touched the IR.
func (s Stats) Changed() bool { return s.Rewrites > 0 || s.Erased > 0 }

// Add folds other into s.
func (s *Stats) Add(other Stats) {
	s.Rewrites += other.Rewrites
	s.Erased += other.Erased
	s.Sweeps += other.Sweeps
	if s.ByPattern == nil {
		s.ByPattern = make(map[string]int)
	}
	for k, v := range other.ByPattern {
		s.ByPattern[k] += v
	}
}

// ApplyGreedily applies patterns to every op of m until none applies.
//
// Each sweep visits ops in pre-order; the first pattern that applies to an
// op wins and the sweep moves on. Unused ops without side effects are
// erased along the way. The run fails with a *StepsExceededError when the
// rewrite quota is exhausted, a *CycleError when a sweep reproduces an
// earlier module state, or a *PatternError when a pattern reports a hard
// structural error.
func ApplyGreedily(ctx context.Context, m *ir.Module, patterns []Pattern, opts Options) (Stats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	byKind := make(map[ir.Kind][]Pattern)
	var generic []Pattern
	for _, p := range patterns {
		if p.Root() == ir.AnyKind {
			generic = append(generic, p)
			continue
		}
		byKind[p.Root()] = append(byKind[p.Root()], p)
	}

	stats := Stats{ByPattern: make(map[string]int)}
	quota := newQuotaEnforcer(opts.MaxRewrites)
	cycles := newCycleDetector()
	rw := NewRewriter(m)

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Sweeps++
		changed := false
		for _, op := range m.Collect(m.Root()) {
			if m.IsErased(op) || !attached(m, op) {
				continue
			}
			if IsTriviallyDead(m, op) {
				m.Erase(op)
				stats.Erased++
				changed = true
				continue
			}
			applied, err := applyOne(rw, op, byKind[m.Kind(op)], generic, &stats, quota)
			if err != nil {
				return stats, err
			}
			if applied != "" {
				changed = true
				logger.Debug("pattern applied", "pass", opts.Pass, "pattern", applied, "sweep", stats.Sweeps)
			}
		}
		if !changed {
			return stats, nil
		}
		hash, err := ir.ModuleHash(m)
		if err != nil {
			return stats, err
		}
		if first, seen := cycles.record(hash, stats.Sweeps); seen {
			return stats, &CycleError{Sweep: stats.Sweeps, FirstSweep: first, Hash: hash}
		}
	}
}

func applyOne(rw *Rewriter, op ir.OpID, specific, generic []Pattern, stats *Stats, quota *quotaEnforcer) (string, error) {
	m := rw.M()
	for _, set := range [][]Pattern{specific, generic} {
		for _, p := range set {
			kind := m.Kind(op)
			res, err := p.MatchAndRewrite(rw, op)
			if err != nil {
				return "", &PatternError{Pattern: p.Name(), Op: kind.String(), Err: err}
			}
			if res != Applied {
				continue
			}
			stats.Rewrites++
			stats.ByPattern[p.Name()]++
			if err := quota.check(p.Name()); err != nil {
				return "", err
			}
			return p.Name(), nil
		}
	}
	return "", nil
}

// attached reports whether op is still reachable from the module root. A
// pattern may detach ops without erasing them.
func attached(m *ir.Module, op ir.OpID) bool {
	for cur := op; cur != m.Root(); {
		blk := m.Op(cur).Parent
		if !blk.IsValid() {
			return false
		}
		cur = m.BlockParentOp(blk)
		if !cur.IsValid() || m.IsErased(cur) {
			return false
		}
	}
	return true
}

// IsTriviallyDead reports whether op can be erased without changing
// behavior: it has results, none are used, and it is pure, read-only or
// an allocation.
func IsTriviallyDead(m *ir.Module, op ir.OpID) bool {
	o := m.Op(op)
	if len(o.Results) == 0 || len(o.Regions) > 0 {
		return false
	}
	k := o.Kind
	if !k.Has(ir.TraitPure) && !k.Has(ir.TraitReadOnly) && !k.Has(ir.TraitAllocates) {
		return false
	}
	return m.ResultsUnused(op)
}

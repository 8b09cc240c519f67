package rewrite

// DefaultMaxRewrites bounds a single ApplyGreedily call.
const DefaultMaxRewrites = 10000

// quotaEnforcer counts successful rewrites against a limit. Together with
// the sweep-state cycle check it guarantees that ApplyGreedily terminates:
// cycles are caught by state repetition, linear explosions by the quota.
type quotaEnforcer struct {
	maxSteps int
	current  int
}

func newQuotaEnforcer(maxSteps int) *quotaEnforcer {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxRewrites
	}
	return &quotaEnforcer{maxSteps: maxSteps}
}

// check increments the step counter and validates it against the limit.
func (q *quotaEnforcer) check(pattern string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{Pattern: pattern, Steps: q.current, Limit: q.maxSteps}
	}
	return nil
}

// cycleDetector remembers the module hash after every sweep.
type cycleDetector struct {
	seen map[string]int
}

func newCycleDetector() *cycleDetector {
	return &cycleDetector{seen: make(map[string]int)}
}

// record stores the state reached by sweep and reports the earlier sweep
// that produced the same state, if any.
func (c *cycleDetector) record(hash string, sweep int) (int, bool) {
	if first, ok := c.seen[hash]; ok {
		return first, true
	}
	c.seen[hash] = sweep
	return 0, false
}

package harness

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// AssertionError is one unmet expectation.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateExpect checks result against expect and returns one message
// per failed expectation.
func EvaluateExpect(result *Result, expect Expect) []string {
	var errs []string
	fail := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if expect.Error != "" {
		switch {
		case result.Err == "":
			fail(&AssertionError{Type: "error", Expected: fmt.Sprintf("failure containing %q", expect.Error), Actual: "run succeeded"})
		case !strings.Contains(result.Err, expect.Error):
			fail(&AssertionError{Type: "error", Expected: fmt.Sprintf("failure containing %q", expect.Error), Actual: result.Err})
		}
		return errs
	}
	if result.Err != "" {
		return []string{(&AssertionError{Type: "run", Expected: "success", Actual: result.Err}).Error()}
	}

	if expect.Results != nil {
		fail(assertValues("results", expect.Results, result.Results))
	}
	if expect.Args != nil {
		fail(assertValues("args", expect.Args, result.Args))
	}
	fail(assertOpCounts(expect.OpCounts, result.OpCounts))
	fail(assertThunks(expect.Thunks, result.Thunks))
	fail(assertCounter("allocs", expect.Allocs, result.Counters.Allocs))
	fail(assertCounter("deallocs", expect.Deallocs, result.Counters.Deallocs))
	fail(assertCounter("stack_allocs", expect.StackAllocs, result.Counters.StackAllocs))
	fail(assertCounter("live_tokens", expect.LiveTokens, result.Counters.LiveTokens))
	return errs
}

func assertValues(kind string, want, got []any) error {
	if len(want) != len(got) {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%d values", len(want)),
			Actual:   fmt.Sprintf("%d values %v", len(got), got),
		}
	}
	for i := range want {
		if !valuesEqual(want[i], got[i]) {
			return &AssertionError{
				Type:     fmt.Sprintf("%s[%d]", kind, i),
				Expected: fmt.Sprint(want[i]),
				Actual:   fmt.Sprint(got[i]),
			}
		}
	}
	return nil
}

func assertOpCounts(want, got map[string]int) error {
	names := make([]string, 0, len(want))
	for name := range want {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if got[name] != want[name] {
			return &AssertionError{
				Type:     "op_counts",
				Expected: fmt.Sprintf("%d %s", want[name], name),
				Actual:   fmt.Sprintf("%d %s", got[name], name),
			}
		}
	}
	return nil
}

func assertThunks(want, got []string) error {
	for _, name := range want {
		if !slices.Contains(got, name) {
			return &AssertionError{
				Type:     "thunks",
				Expected: name,
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return nil
}

func assertCounter(name string, want *int64, got int64) error {
	if want == nil || *want == got {
		return nil
	}
	return &AssertionError{Type: name, Expected: fmt.Sprint(*want), Actual: fmt.Sprint(got)}
}

// valuesEqual compares a YAML value with a run value. Numbers compare
// with a relative tolerance; lists compare element-wise.
func valuesEqual(want, got any) bool {
	w, wList, ok := numbers(want)
	if !ok {
		return false
	}
	g, gList, ok := numbers(got)
	if !ok || wList != gList || len(w) != len(g) {
		return false
	}
	for i := range w {
		if !approxEqual(w[i], g[i]) {
			return false
		}
	}
	return true
}

func approxEqual(a, b float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= 1e-9*scale
}

func numbers(v any) ([]float64, bool, bool) {
	if f, ok := toFloat(v); ok {
		return []float64{f}, false, true
	}
	switch v := v.(type) {
	case []float64:
		return v, true, true
	case []int64:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out, true, true
	case []any:
		out := make([]float64, len(v))
		for i, e := range v {
			f, ok := toFloat(e)
			if !ok {
				return nil, true, false
			}
			out[i] = f
		}
		return out, true, true
	}
	return nil, false, false
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

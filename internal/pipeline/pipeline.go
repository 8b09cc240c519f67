// Package pipeline runs named lowering passes over a module in order.
//
// Every pass is followed by ir.Verify. A hard structural error stops the
// run and names the pass; the module is left as that pass left it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/rewrite"
)

// Options configures Run.
type Options struct {
	// Passes is the pass order. Empty means Default.
	Passes []string
	// Interleave inserts canonicalize after every other pass.
	Interleave bool
	// MaxRewrites bounds each greedy pass. Zero uses the driver default.
	MaxRewrites int
	// Until stops after the first run of the named pass.
	Until string
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// PassResult is the outcome of one pass.
type PassResult struct {
	Pass  string        `json:"pass" yaml:"pass"`
	Stats rewrite.Stats `json:"stats" yaml:"stats"`
}

// Plan returns the pass order opts describes.
func Plan(opts Options) ([]string, error) {
	names := opts.Passes
	if len(names) == 0 {
		names = Default
	}
	if err := Validate(names); err != nil {
		return nil, err
	}
	plan := Expand(names, opts.Interleave)
	if opts.Until != "" {
		i := slices.Index(plan, opts.Until)
		if i < 0 {
			return nil, fmt.Errorf("pass %s is not in the pipeline", opts.Until)
		}
		plan = plan[:i+1]
	}
	return plan, nil
}

// Fingerprint identifies the lowering opts describe: the planned pass
// order and the options that change what a pass produces.
func Fingerprint(opts Options) (string, error) {
	plan, err := Plan(opts)
	if err != nil {
		return "", err
	}
	return ir.PipelineHash(plan, map[string]any{"max_rewrites": opts.MaxRewrites})
}

// Run applies the planned passes to m in place and returns per-pass
// stats, including those of the failing pass.
func Run(ctx context.Context, m *ir.Module, opts Options) ([]PassResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	plan, err := Plan(opts)
	if err != nil {
		return nil, err
	}
	if err := ir.Verify(m); err != nil {
		return nil, &rewrite.PassError{Code: rewrite.ErrCodeVerifyFailed, Message: err.Error(), Pass: "input"}
	}

	po := passOptions{maxRewrites: opts.MaxRewrites, logger: logger}
	results := make([]PassResult, 0, len(plan))
	for _, name := range plan {
		pass := registry[name]
		stats, err := pass.run(ctx, m, po)
		results = append(results, PassResult{Pass: name, Stats: stats})
		if err != nil {
			err = attribute(name, err)
			logger.Error("pass failed", "pass", name, "error", err)
			return results, err
		}
		if err := ir.Verify(m); err != nil {
			perr := &rewrite.PassError{Code: rewrite.ErrCodeVerifyFailed, Message: err.Error(), Pass: name}
			logger.Error("pass produced invalid IR", "pass", name, "error", err)
			return results, perr
		}
		logger.Debug("pass done",
			"pass", name,
			"rewrites", stats.Rewrites,
			"erased", stats.Erased,
			"sweeps", stats.Sweeps,
		)
	}
	return results, nil
}

// attribute names pass in err. PassErrors get their Pass field filled in;
// other errors are wrapped.
func attribute(pass string, err error) error {
	var pe *rewrite.PassError
	if errors.As(err, &pe) {
		if pe.Pass == "" {
			pe.Pass = pass
		}
		return err
	}
	return fmt.Errorf("pass %s: %w", pass, err)
}

// Total sums the stats of results.
func Total(results []PassResult) rewrite.Stats {
	var total rewrite.Stats
	for _, r := range results {
		total.Add(r.Stats)
	}
	return total
}

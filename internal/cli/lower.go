package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/pipeline"
	"github.com/roach88/parlower/internal/samples"
	"github.com/roach88/parlower/internal/store"
)

// LowerOptions holds flags for the lower command.
type LowerOptions struct {
	*RootOptions
	Params   []string
	Until    string
	Database string
	Stats    bool
}

// LowerOutput is the result of the lower command.
type LowerOutput struct {
	Sample     string                `json:"sample"`
	ModuleHash string                `json:"module_hash"`
	Pipeline   []string              `json:"pipeline"`
	Passes     []pipeline.PassResult `json:"passes,omitempty"`
	Cached     bool                  `json:"cached"`
	RunID      string                `json:"run_id,omitempty"`
	IR         string                `json:"ir"`
}

// NewLowerCommand creates the lower command.
func NewLowerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LowerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "lower <sample>",
		Short: "Run the pass pipeline over a sample and print the IR",
		Long: `Build a sample program, run the lowering pipeline over it and print
the resulting IR.

With --db the run is recorded, and a previous successful lowering of the
same module through the same pipeline is printed without re-running it.

Examples:
  parlower lower reduce-sum
  parlower lower reduce-sum --param n=1000 --param max_concurrency=8
  parlower lower hoist-buffer --until hoist-buffer-allocs
  parlower lower jacobi-1d --stats --db runs.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLower(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "sample parameter key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Until, "until", "", "stop after the first run of this pass")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record runs in this SQLite database")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "print pass statistics instead of the IR")

	return cmd
}

func runLower(cmd *cobra.Command, opts *LowerOptions, name string) error {
	ctx := cmd.Context()
	f := newFormatter(cmd, opts.RootOptions)

	s, params, err := resolveSample(opts.RootOptions, name, opts.Params)
	if err != nil {
		return err
	}
	m, err := s.Build(params)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build sample", err)
	}
	hash, err := ir.ModuleHash(m)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to hash module", err)
	}

	popts := opts.Config.PipelineOptions(opts.Logger)
	if opts.Until != "" {
		popts.Until = opts.Until
	}
	plan, err := pipeline.Plan(popts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid pipeline", err)
	}
	key, err := pipeline.Fingerprint(popts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid pipeline", err)
	}
	out := LowerOutput{Sample: s.Name, ModuleHash: hash, Pipeline: plan}

	st, err := openStore(opts.database(opts.Database))
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
		cached, ok, err := st.CachedLowering(ctx, hash, key)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read cache", err)
		}
		if ok {
			opts.Logger.Debug("lowering served from store", "sample", s.Name, "hash", hash)
			out.Cached, out.IR = true, cached
			return f.Success(out, func(w io.Writer) { fmt.Fprint(w, out.IR) })
		}
	}

	results, runErr := pipeline.Run(ctx, m, popts)
	out.Passes = results
	out.IR = ir.Print(m)
	if st != nil {
		run, err := recordRun(ctx, st, s.Name, hash, key, plan, results, out.IR, runErr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to record run", err)
		}
		out.RunID = run.ID
	}
	if runErr != nil {
		return f.Error(ExitFailure, "LOWERING_FAILED", runErr, out)
	}

	return f.Success(out, func(w io.Writer) {
		if opts.Stats {
			writeStats(w, results)
			return
		}
		fmt.Fprint(w, out.IR)
	})
}

// resolveSample looks up a sample and merges flags and config into its
// parameters.
func resolveSample(opts *RootOptions, name string, raw []string) (samples.Sample, samples.Params, error) {
	s, err := samples.Get(name)
	if err != nil {
		return samples.Sample{}, nil, WrapExitError(ExitCommandError, "unknown sample", err)
	}
	params, err := parseParams(raw)
	if err != nil {
		return samples.Sample{}, nil, WrapExitError(ExitCommandError, "invalid parameters", err)
	}
	applyConfig(s, params, opts.Config.MaxConcurrency)
	if _, err := s.Resolve(params); err != nil {
		return samples.Sample{}, nil, WrapExitError(ExitCommandError, "invalid parameters", err)
	}
	return s, params, nil
}

// openStore opens path, or returns nil when path is empty.
func openStore(path string) (*store.Store, error) {
	if path == "" {
		return nil, nil
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// recordRun writes one pipeline run. runErr marks it failed.
func recordRun(ctx context.Context, st *store.Store, sample, hash, key string, plan []string, results []pipeline.PassResult, lowered string, runErr error) (store.Run, error) {
	run := store.Run{
		ModuleHash:   hash,
		Sample:       sample,
		Pipeline:     plan,
		PipelineHash: key,
		Status:       store.RunOK,
		LoweredIR:    lowered,
	}
	if runErr != nil {
		run.Status, run.Error = store.RunFailed, runErr.Error()
	}
	for _, r := range results {
		run.Passes = append(run.Passes, store.PassStat{
			Pass:     r.Pass,
			Rewrites: r.Stats.Rewrites,
			Erased:   r.Stats.Erased,
			Sweeps:   r.Stats.Sweeps,
		})
	}
	return st.WriteRun(ctx, run)
}

func writeStats(w io.Writer, results []pipeline.PassResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PASS\tREWRITES\tERASED\tSWEEPS")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", r.Pass, r.Stats.Rewrites, r.Stats.Erased, r.Stats.Sweeps)
	}
	total := pipeline.Total(results)
	fmt.Fprintf(tw, "total\t%d\t%d\t%d\n", total.Rewrites, total.Erased, total.Sweeps)
	tw.Flush()
}

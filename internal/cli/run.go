package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/parlower/internal/engine"
	"github.com/roach88/parlower/internal/harness"
	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/pipeline"
	"github.com/roach88/parlower/internal/runtime"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Params   []string
	Database string
	NoLower  bool

	// Handles overrides the engine's handle generator (for testing).
	Handles engine.HandleGenerator
}

// RunOutput is the result of the run command.
type RunOutput struct {
	Sample   string                `json:"sample"`
	Entry    string                `json:"entry"`
	Lowered  bool                  `json:"lowered"`
	Handle   string                `json:"handle"`
	Results  []any                 `json:"results"`
	Args     []any                 `json:"args,omitempty"`
	Counters runtime.Counters      `json:"counters"`
	Passes   []pipeline.PassResult `json:"passes,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <sample>",
		Short: "Lower a sample, execute its entry and print the results",
		Long: `Lower a sample program, load it into the execution engine and call its
entry function with the sample's arguments. Prints the results, the
arguments afterwards and the runtime's allocation counters.

Examples:
  parlower run reduce-sum --param n=1000000
  parlower run hoist-buffer --no-lower
  parlower run float-reduce --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSample(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "sample parameter key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the lowering and module load in this SQLite database")
	cmd.Flags().BoolVar(&opts.NoLower, "no-lower", false, "execute the module without running the pipeline")

	return cmd
}

func runSample(cmd *cobra.Command, opts *RunOptions, name string) error {
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
	out := RunOutput{Sample: s.Name, Entry: s.Entry, Lowered: !opts.NoLower}

	st, err := openStore(opts.database(opts.Database))
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	if !opts.NoLower {
		hash, err := ir.ModuleHash(m)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to hash module", err)
		}
		popts := opts.Config.PipelineOptions(opts.Logger)
		plan, err := pipeline.Plan(popts)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid pipeline", err)
		}
		key, err := pipeline.Fingerprint(popts)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid pipeline", err)
		}
		results, runErr := pipeline.Run(ctx, m, popts)
		out.Passes = results
		if st != nil {
			if _, err := recordRun(ctx, st, s.Name, hash, key, plan, results, ir.Print(m), runErr); err != nil {
				return WrapExitError(ExitCommandError, "failed to record run", err)
			}
		}
		if runErr != nil {
			return f.Error(ExitFailure, "LOWERING_FAILED", runErr, out)
		}
	}

	eopts := opts.Config.EngineOptions(opts.Logger)
	if st != nil {
		eopts = append(eopts, engine.WithStore(st))
	}
	if opts.Handles != nil {
		eopts = append(eopts, engine.WithHandleGenerator(opts.Handles))
	}
	eng := engine.New(eopts...)
	handle, err := eng.Load(ctx, m)
	if err != nil {
		return f.Error(ExitFailure, "LOAD_FAILED", err, out)
	}
	defer eng.Release(handle)
	out.Handle = handle

	fn, err := eng.Lookup(handle, s.Entry)
	if err != nil {
		return f.Error(ExitFailure, "LOOKUP_FAILED", err, out)
	}
	args, err := s.Args(params)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid parameters", err)
	}
	var res []any
	if fn.Packed() {
		res, err = fn.CallPacked(ctx, args...)
	} else {
		res, err = fn.Call(ctx, args...)
	}
	if err != nil {
		return f.Error(ExitFailure, "CALL_FAILED", err, out)
	}

	out.Results = harness.Flatten(res)
	out.Args = harness.Flatten(args)
	for _, v := range res {
		if a, ok := v.(*engine.Array); ok {
			_ = a.Release()
		}
	}
	out.Counters = eng.Counters()

	return f.Success(out, func(w io.Writer) {
		fmt.Fprintf(w, "%s.%s (lowered=%t)\n", out.Sample, out.Entry, out.Lowered)
		for i, r := range out.Results {
			fmt.Fprintf(w, "  result[%d] = %v\n", i, r)
		}
		for i, a := range out.Args {
			switch a.(type) {
			case []float64, []int64:
				fmt.Fprintf(w, "  arg[%d]    = %v\n", i, a)
			}
		}
		c := out.Counters
		fmt.Fprintf(w, "allocs=%d deallocs=%d stack_allocs=%d live_tokens=%d\n",
			c.Allocs, c.Deallocs, c.StackAllocs, c.LiveTokens)
	})
}

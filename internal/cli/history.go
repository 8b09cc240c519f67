package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/parlower/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
	RunID    string
	ShowIR   bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded pipeline runs",
		Long: `List pipeline runs recorded with --db, oldest first, or show one run
with its per-pass statistics.

Examples:
  parlower history --db runs.db
  parlower history --db runs.db --limit 5
  parlower history --db runs.db --run <id> --ir`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "show the last N runs (0 for all)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show a single run")
	cmd.Flags().BoolVar(&opts.ShowIR, "ir", false, "with --run, also print the lowered IR")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	ctx := cmd.Context()
	f := newFormatter(cmd, opts.RootOptions)

	path := opts.database(opts.Database)
	if path == "" {
		return NewExitError(ExitCommandError, "no database: pass --db or set engine.database")
	}
	st, err := openStore(path)
	if err != nil {
		return err
	}
	defer st.Close()

	if opts.RunID != "" {
		run, err := st.ReadRun(ctx, opts.RunID)
		if errors.Is(err, store.ErrNotFound) {
			return NewExitError(ExitCommandError, fmt.Sprintf("run %s not found", opts.RunID))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read run", err)
		}
		return f.Success(run, func(w io.Writer) {
			fmt.Fprintf(w, "run %s (seq %d)\n", run.ID, run.Seq)
			fmt.Fprintf(w, "sample:   %s\n", run.Sample)
			fmt.Fprintf(w, "module:   %s\n", run.ModuleHash)
			fmt.Fprintf(w, "status:   %s\n", run.Status)
			if run.Error != "" {
				fmt.Fprintf(w, "error:    %s\n", run.Error)
			}
			fmt.Fprintln(w)
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PASS\tREWRITES\tERASED\tSWEEPS")
			for _, p := range run.Passes {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", p.Pass, p.Rewrites, p.Erased, p.Sweeps)
			}
			tw.Flush()
			if opts.ShowIR {
				fmt.Fprintln(w)
				fmt.Fprint(w, run.LoweredIR)
			}
		})
	}

	runs, err := st.ReadRuns(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read runs", err)
	}
	return f.Success(runs, func(w io.Writer) {
		if len(runs) == 0 {
			fmt.Fprintln(w, "No runs recorded.")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEQ\tID\tSAMPLE\tSTATUS\tPIPELINE")
		for _, r := range runs {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.Seq, r.ID, r.Sample, r.Status, strings.Join(r.Pipeline, ","))
		}
		tw.Flush()
	})
}

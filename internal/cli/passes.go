package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/parlower/internal/pipeline"
	"github.com/roach88/parlower/internal/samples"
)

// PassInfo describes one registered pass.
type PassInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PassesOutput is the result of the passes command.
type PassesOutput struct {
	Passes  []PassInfo `json:"passes"`
	Default []string   `json:"default"`
}

// NewPassesCommand creates the passes command.
func NewPassesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "passes",
		Short: "List the registered passes and the default pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := PassesOutput{Default: pipeline.Default}
			for _, p := range pipeline.Passes() {
				out.Passes = append(out.Passes, PassInfo{Name: p.Name, Description: p.Description})
			}
			return newFormatter(cmd, rootOpts).Success(out, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				for _, p := range out.Passes {
					fmt.Fprintf(tw, "%s\t%s\n", p.Name, p.Description)
				}
				tw.Flush()
				fmt.Fprintf(w, "\ndefault: %s\n", strings.Join(out.Default, " -> "))
			})
		},
	}
}

// SampleInfo describes one sample program.
type SampleInfo struct {
	Name        string         `json:"name"`
	Entry       string         `json:"entry"`
	Description string         `json:"description"`
	Defaults    samples.Params `json:"defaults"`
}

// NewSamplesCommand creates the samples command.
func NewSamplesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "samples",
		Short: "List the sample programs and their parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out []SampleInfo
			for _, s := range samples.All() {
				out = append(out, SampleInfo{Name: s.Name, Entry: s.Entry, Description: s.Description, Defaults: s.Defaults})
			}
			return newFormatter(cmd, rootOpts).Success(out, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				for _, s := range out {
					var params []string
					for _, k := range slices.Sorted(maps.Keys(s.Defaults)) {
						params = append(params, fmt.Sprintf("%s=%d", k, s.Defaults[k]))
					}
					fmt.Fprintf(tw, "%s\t@%s\t%s\t%s\n", s.Name, s.Entry, strings.Join(params, " "), s.Description)
				}
				tw.Flush()
			})
		},
	}
}

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/causality/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string
}

// TestSummary aggregates a scenario run.
type TestSummary struct {
	Total   int                  `json:"total"`
	Passed  int                  `json:"passed"`
	Failed  int                  `json:"failed"`
	Results []harness.FileResult `json:"results"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run conformance scenarios",
		Long: `Test runs every YAML scenario under a directory. Each scenario names a
program, its host handlers and the expected outcome, plus assertions over
the trace, the causal log, replay and proofs.

The command exits 1 when any scenario fails.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "glob over scenario file names")

	return cmd
}

func runTest(opts *TestOptions, dir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	files, err := harness.ScenarioFiles(dir, opts.Filter)
	if err != nil {
		return f.Fail("find scenarios", &LoadError{Path: dir, Message: "no scenarios", Err: err}, nil)
	}
	if len(files) == 0 {
		return f.Fail("find scenarios", &LoadError{Path: dir, Message: "no scenario files found"}, nil)
	}
	f.VerboseLog("running %d scenario(s) from %s", len(files), dir)

	results := harness.RunFiles(cmd.Context(), files, harness.WithLogger(opts.logger().Named("harness")))
	sum := &TestSummary{Total: len(results), Results: results}
	for _, r := range results {
		if r.Pass() {
			sum.Passed++
		} else {
			sum.Failed++
		}
	}

	if err := f.Success(sum, func(w io.Writer) { printSummary(w, sum) }); err != nil {
		return err
	}
	if sum.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", sum.Failed, sum.Total))
	}
	return nil
}

func printSummary(w io.Writer, sum *TestSummary) {
	for _, r := range sum.Results {
		switch {
		case r.Err != "":
			fmt.Fprintf(w, "%s %s\n  %s\n", failMark("✗"), r.Name, r.Err)
		case !r.Result.Pass:
			fmt.Fprintf(w, "%s %s\n", failMark("✗"), r.Name)
			for _, msg := range r.Result.Errors {
				fmt.Fprintf(w, "  %s\n", msg)
			}
		case r.Result.TraceHash == "":
			fmt.Fprintf(w, "%s %s %s\n", okMark("✓"), r.Name, dim(r.Result.Failure))
		default:
			fmt.Fprintf(w, "%s %s %s\n", okMark("✓"), r.Name, dim(r.Result.TraceHash[:12]))
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", sum.Passed, sum.Failed, sum.Total)
}

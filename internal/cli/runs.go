package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/causality/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Program   string
	Failed    bool
	Succeeded bool
	Failure   string
	Newest    bool
	Limit     int
}

// RunView is one stored run as listed by the runs command.
type RunView struct {
	ID      string `json:"id"`
	Seq     int64  `json:"seq"`
	Program string `json:"program"`
	Trace   string `json:"trace"`
	Failure string `json:"failure,omitempty"`
	Entries int    `json:"entries"`
	GasUsed uint64 `json:"gas_used"`
}

// RunsResult lists stored runs.
type RunsResult struct {
	Runs []RunView `json:"runs"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs recorded in the sqlite store",
		Long: `Runs lists the runs recorded by run, trace and submit in storage order.

--program compiles a source file and keeps only its runs. --failed and
--succeeded keep one outcome; --failure keeps one failure tag.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Program, "program", "", "only runs of this source file")
	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "only failed runs")
	cmd.Flags().BoolVar(&opts.Succeeded, "succeeded", false, "only successful runs")
	cmd.Flags().StringVar(&opts.Failure, "failure", "", "only runs that failed with this tag")
	cmd.Flags().BoolVar(&opts.Newest, "newest", false, "newest first")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "at most this many runs (0 = all)")

	return cmd
}

func runRuns(opts *RunsOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	if opts.Limit < 0 {
		return f.Fail("runs", NewExitError(ExitValidation, "--limit must not be negative"), nil)
	}
	if opts.Succeeded && (opts.Failed || opts.Failure != "") {
		return f.Fail("runs", NewExitError(ExitValidation, "--succeeded excludes --failed and --failure"), nil)
	}
	e, err := openEnv(opts.RootOptions)
	if err != nil {
		return f.Fail("open store", err, nil)
	}
	defer e.Close()
	if e.store == nil {
		return f.Fail("runs", NewExitError(ExitValidation, "runs needs the sqlite store"), nil)
	}

	filter := store.RunFilter{
		Failure:       opts.Failure,
		FailedOnly:    opts.Failed,
		SucceededOnly: opts.Succeeded,
		Newest:        opts.Newest,
		Limit:         opts.Limit,
	}
	if opts.Program != "" {
		src, err := LoadSource(opts.Program, cmd.InOrStdin())
		if err != nil {
			return f.Fail("load source", err, nil)
		}
		a, err := e.compile(cmd.Context(), src)
		if err != nil {
			return f.Fail("compile "+src.Path, err, nil)
		}
		filter.Program = a.ProgramID()
	}

	runs, err := e.store.FindRuns(cmd.Context(), filter)
	if err != nil {
		return f.Fail("list runs", err, nil)
	}
	res := &RunsResult{Runs: make([]RunView, 0, len(runs))}
	for _, r := range runs {
		res.Runs = append(res.Runs, RunView{
			ID:      r.ID.String(),
			Seq:     r.Seq,
			Program: r.Program.String(),
			Trace:   r.TraceID.Hex(),
			Failure: r.Failure,
			Entries: len(r.Trace.Entries),
			GasUsed: r.Stats.GasUsed,
		})
	}
	return f.Success(res, func(w io.Writer) {
		if len(res.Runs) == 0 {
			fmt.Fprintln(w, dim("no runs"))
			return
		}
		for _, r := range res.Runs {
			mark := okMark("✓")
			outcome := "ok"
			if r.Failure != "" {
				mark, outcome = failMark("✗"), r.Failure
			}
			fmt.Fprintf(w, "%s %s  %s  %s  gas %d  %s\n", mark, r.ID, r.Program[:12], r.Trace[:12], r.GasUsed, outcome)
		}
	})
}

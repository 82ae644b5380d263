package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/causality/internal/executor"
	"github.com/roach88/causality/internal/ir"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Gas      uint64
	Handlers []string
}

// RunResult reports one execution.
type RunResult struct {
	Source    string         `json:"source"`
	Program   string         `json:"program"`
	Value     string         `json:"value,omitempty"`
	Failure   string         `json:"failure,omitempty"`
	Trace     string         `json:"trace"`
	Entries   int            `json:"entries"`
	Events    int            `json:"events"`
	RunID     string         `json:"run_id,omitempty"`
	Stats     executor.Stats `json:"stats"`
	traceHash ir.ContentID
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <file|->",
		Short: "Compile and execute a program",
		Long: `Run compiles a program and executes it under the configured gas budget.

Effects are answered by host handlers given with --handler tag=op, where op
is incr, echo, fail or const:N. With the sqlite store the run is recorded
and can be replayed later.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(opts, args[0], cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.Gas, "gas", 0, "gas budget (default from config)")
	cmd.Flags().StringArrayVar(&opts.Handlers, "handler", nil, "host handler tag=op (repeatable)")

	return cmd
}

func runRun(opts *RunOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	handlers, err := parseHandlers(opts.Handlers)
	if err != nil {
		return f.Fail("parse handlers", err, nil)
	}
	src, err := LoadSource(path, cmd.InOrStdin())
	if err != nil {
		return f.Fail("load source", err, nil)
	}
	e, err := openEnv(opts.RootOptions)
	if err != nil {
		return f.Fail("open store", err, nil)
	}
	defer e.Close()

	run, err := e.execute(cmd.Context(), src, e.executorOptions(handlers, opts.Gas))
	if err != nil {
		return f.Fail("run "+src.Path, err, nil)
	}
	res, err := runResult(src, run)
	if err != nil {
		return f.Fail("hash trace", err, nil)
	}
	if run.err != nil {
		return f.Fail("run "+src.Path, run.err, res)
	}
	return f.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "%s %s = %s\n", okMark("✓"), src.Path, res.Value)
		fmt.Fprintf(w, "  trace  %s (%d entries, %d events)\n", res.traceHash.Short(), res.Entries, res.Events)
		fmt.Fprintf(w, "  gas    %d used, %d instruction(s), %d effect(s)\n", res.Stats.GasUsed, res.Stats.Instructions, res.Stats.Effects)
		if res.RunID != "" {
			fmt.Fprintf(w, "  run    %s\n", res.RunID)
		}
	})
}

func runResult(src *Source, run *execution) (*RunResult, error) {
	tr := run.executor.Trace()
	hash, err := tr.Hash()
	if err != nil {
		return nil, err
	}
	res := &RunResult{
		Source:    src.Path,
		Program:   tr.Program.String(),
		Failure:   tr.Failure,
		Trace:     hash.Hex(),
		Entries:   len(tr.Entries),
		Events:    len(tr.Events),
		RunID:     run.runID,
		Stats:     run.executor.Stats(),
		traceHash: hash,
	}
	if run.err == nil {
		res.Value = run.value.String()
	}
	return res, nil
}

package cli

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/causality/internal/executor"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Run      string
	Gas      uint64
	Handlers []string
}

// EntryView is one trace entry as printed.
type EntryView struct {
	Task    uint32 `json:"task"`
	PC      int    `json:"pc"`
	Op      string `json:"op"`
	Pre     string `json:"pre"`
	Post    string `json:"post,omitempty"`
	Events  int    `json:"resource_events,omitempty"`
	Failure string `json:"failure,omitempty"`
}

// EventView is one runtime event as printed.
type EventView struct {
	Kind    string `json:"kind"`
	Task    uint32 `json:"task"`
	PC      int    `json:"pc"`
	Subject string `json:"subject,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// TraceResult is a trace ready for output.
type TraceResult struct {
	Program string      `json:"program"`
	Trace   string      `json:"trace"`
	RunID   string      `json:"run_id,omitempty"`
	Failure string      `json:"failure,omitempty"`
	Entries []EntryView `json:"entries"`
	Events  []EventView `json:"events"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [file|-]",
		Short: "Print the execution trace of a program or a stored run",
		Long: `Trace executes a program and prints every trace entry and runtime event.

With --run the trace of a stored run is printed instead; this needs the
sqlite store.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Run, "run", "", "stored run id")
	cmd.Flags().Uint64Var(&opts.Gas, "gas", 0, "gas budget (default from config)")
	cmd.Flags().StringArrayVar(&opts.Handlers, "handler", nil, "host handler tag=op (repeatable)")

	return cmd
}

func runTrace(opts *TraceOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	if (opts.Run == "") == (len(args) == 0) {
		return f.Fail("trace", NewExitError(ExitValidation, "give either a program or --run"), nil)
	}
	e, err := openEnv(opts.RootOptions)
	if err != nil {
		return f.Fail("open store", err, nil)
	}
	defer e.Close()

	var (
		tr    *executor.Trace
		runID string
	)
	if opts.Run != "" {
		if e.store == nil {
			return f.Fail("trace", NewExitError(ExitValidation, "--run needs the sqlite store"), nil)
		}
		id, err := uuid.Parse(opts.Run)
		if err != nil {
			return f.Fail("trace", WrapExitError(ExitValidation, "invalid run id", err), nil)
		}
		run, err := e.store.ReadRun(cmd.Context(), id)
		if err != nil {
			return f.Fail("read run "+opts.Run, WrapExitError(ExitValidation, "read run", err), nil)
		}
		tr, runID = run.Trace, run.ID.String()
	} else {
		handlers, err := parseHandlers(opts.Handlers)
		if err != nil {
			return f.Fail("parse handlers", err, nil)
		}
		src, err := LoadSource(args[0], cmd.InOrStdin())
		if err != nil {
			return f.Fail("load source", err, nil)
		}
		run, err := e.execute(cmd.Context(), src, e.executorOptions(handlers, opts.Gas))
		if err != nil {
			return f.Fail("run "+src.Path, err, nil)
		}
		tr, runID = run.executor.Trace(), run.runID
	}

	res, err := traceResult(tr)
	if err != nil {
		return f.Fail("hash trace", err, nil)
	}
	res.RunID = runID
	return f.Success(res, func(w io.Writer) { printTrace(w, tr, res) })
}

func traceResult(tr *executor.Trace) (*TraceResult, error) {
	hash, err := tr.Hash()
	if err != nil {
		return nil, err
	}
	res := &TraceResult{
		Program: tr.Program.String(),
		Trace:   hash.Hex(),
		Failure: tr.Failure,
		Entries: make([]EntryView, 0, len(tr.Entries)),
		Events:  make([]EventView, 0, len(tr.Events)),
	}
	for _, en := range tr.Entries {
		v := EntryView{
			Task:    en.Task,
			PC:      en.PC,
			Op:      en.Instruction.Opcode().String(),
			Pre:     en.Pre.Hex(),
			Events:  len(en.Events),
			Failure: en.Failure,
		}
		if !en.Failed() {
			v.Post = en.Post.Hex()
		}
		res.Entries = append(res.Entries, v)
	}
	for _, ev := range tr.Events {
		res.Events = append(res.Events, EventView{
			Kind:    ev.Kind.String(),
			Task:    ev.Task,
			PC:      ev.PC,
			Subject: ev.Subject,
			Detail:  ev.Detail,
		})
	}
	return res, nil
}

func printTrace(w io.Writer, tr *executor.Trace, res *TraceResult) {
	fmt.Fprintf(w, "program %s\n", tr.Program.Short())
	if res.RunID != "" {
		fmt.Fprintf(w, "run     %s\n", res.RunID)
	}
	fmt.Fprintf(w, "trace   %s\n\n", res.Trace[:16])
	if len(tr.Entries) > 0 {
		fmt.Fprintln(w, "Entries:")
		for _, en := range tr.Entries {
			line := "  " + en.String()
			if en.Failed() {
				line = failMark(line)
			}
			fmt.Fprintln(w, line)
		}
	}
	if len(tr.Events) > 0 {
		fmt.Fprintln(w, "Events:")
		for _, ev := range tr.Events {
			fmt.Fprintln(w, "  "+ev.String())
		}
	}
	if tr.Failure != "" {
		fmt.Fprintf(w, "\n%s failed: %s\n", failMark("✗"), tr.Failure)
	} else {
		fmt.Fprintf(w, "\n%s\n", dim(fmt.Sprintf("%d entries, %d events", len(tr.Entries), len(tr.Events))))
	}
}

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/causality/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Handlers []string
}

// ReplayResult reports a replay that matched its recording.
type ReplayResult struct {
	Deterministic bool   `json:"deterministic"`
	Program       string `json:"program"`
	Trace         string `json:"trace"`
	Entries       int    `json:"entries"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <file|->",
		Short: "Re-execute the latest stored run of a program",
		Long: `Replay compiles a program, loads its most recent run from the sqlite store
and re-executes it, comparing the fresh trace entry by entry.

A divergence fails with NON_DETERMINISTIC. Host handlers must match the
ones the run was recorded with.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Handlers, "handler", nil, "host handler tag=op (repeatable)")

	return cmd
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
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
	if e.store == nil {
		return f.Fail("replay", NewExitError(ExitValidation, "replay needs the sqlite store"), nil)
	}

	a, err := e.compile(cmd.Context(), src)
	if err != nil {
		return f.Fail("compile "+src.Path, err, nil)
	}
	tr, err := e.store.ReplayLatest(cmd.Context(), a.Program, e.executorOptions(handlers, 0)...)
	if errors.Is(err, store.ErrRunNotFound) {
		return f.Fail("replay "+src.Path, WrapExitError(ExitValidation, "no stored run", err), nil)
	}
	if err != nil {
		return f.Fail("replay "+src.Path, err, nil)
	}
	hash, err := tr.Hash()
	if err != nil {
		return f.Fail("hash trace", err, nil)
	}
	res := &ReplayResult{Deterministic: true, Program: tr.Program.String(), Trace: hash.Hex(), Entries: len(tr.Entries)}
	return f.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "%s replay of %s matches (%d entries, trace %s)\n", okMark("✓"), src.Path, res.Entries, hash.Short())
	})
}

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/causality/internal/compiler"
)

// ValidateResult reports a program that compiled and whose graph is
// well-formed.
type ValidateResult struct {
	Valid   bool   `json:"valid"`
	Source  string `json:"source"`
	Program string `json:"program"`
	Steps   int    `json:"steps"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file|->",
		Short: "Check a program without running it",
		Long: `Validate compiles a program and checks its effect graph: acyclic ordering,
temporal constraints and single consumption of every linear resource.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	src, err := LoadSource(path, cmd.InOrStdin())
	if err != nil {
		return f.Fail("load source", err, nil)
	}
	a, err := compiler.Compile(src.Text)
	if err != nil {
		return f.Fail("validate "+src.Path, err, nil)
	}
	if err := a.Graph.Validate(); err != nil {
		return f.Fail("validate "+src.Path, err, nil)
	}
	res := &ValidateResult{
		Valid:   true,
		Source:  src.Path,
		Program: a.ProgramID().String(),
		Steps:   len(a.Graph.Steps()),
	}
	return f.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "%s %s is valid (%d step(s))\n", okMark("✓"), src.Path, res.Steps)
	})
}

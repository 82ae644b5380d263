package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output  string // artifact file path
	Listing bool
}

// CompileResult summarizes one compilation.
type CompileResult struct {
	Source       string `json:"source"`
	Artifact     string `json:"artifact"`
	Program      string `json:"program"`
	Graph        string `json:"graph"`
	Effects      int    `json:"effects"`
	Resources    int    `json:"resources"`
	Edges        int    `json:"edges"`
	Instructions int    `json:"instructions"`
	Ops          int    `json:"ops"`
	Output       string `json:"output,omitempty"`
	Listing      string `json:"listing,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <file|->",
		Short: "Compile a program to a content-addressed artifact",
		Long: `Compile parses the S-expression source, lowers it to an effect graph and
schedules the graph onto the register machine.

The artifact id is the hash of the source and every stage's output, so
compiling the same source twice yields the same id.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the artifact to this file")
	cmd.Flags().BoolVar(&opts.Listing, "listing", false, "include the machine code listing")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	src, err := LoadSource(path, cmd.InOrStdin())
	if err != nil {
		return f.Fail("load source", err, nil)
	}
	e, err := openEnv(opts.RootOptions)
	if err != nil {
		return f.Fail("open store", err, nil)
	}
	defer e.Close()

	a, err := e.compile(cmd.Context(), src)
	if err != nil {
		return f.Fail("compile "+src.Path, err, nil)
	}
	gid, err := a.Graph.ID()
	if err != nil {
		return f.Fail("hash graph", err, nil)
	}
	f.VerboseLog("compiled %s: %d effect(s), %d resource(s)", src.Path, len(a.Graph.Effects), len(a.Graph.Resources))

	res := &CompileResult{
		Source:       src.Path,
		Artifact:     a.ID.Hex(),
		Program:      a.ProgramID().String(),
		Graph:        gid.Hex(),
		Effects:      len(a.Graph.Effects),
		Resources:    len(a.Graph.Resources),
		Edges:        len(a.Graph.Edges),
		Instructions: a.Program.InstructionCount(),
		Ops:          len(a.Program.Code),
	}
	if opts.Listing {
		res.Listing = a.Program.Listing()
	}
	if opts.Output != "" {
		data, err := a.Bytes()
		if err != nil {
			return f.Fail("encode artifact", err, nil)
		}
		if err := os.WriteFile(opts.Output, data, 0o644); err != nil {
			return f.Fail("write artifact", &LoadError{Path: opts.Output, Message: "write failed", Err: err}, nil)
		}
		res.Output = opts.Output
	}

	return f.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "%s Compiled %s\n\n", okMark("✓"), src.Path)
		fmt.Fprintf(w, "  artifact  %s\n", res.Artifact)
		fmt.Fprintf(w, "  program   %s\n", res.Program)
		fmt.Fprintf(w, "  graph     %s\n", res.Graph)
		fmt.Fprintf(w, "  %d effect(s), %d resource(s), %d edge(s)\n", res.Effects, res.Resources, res.Edges)
		fmt.Fprintf(w, "  %d op(s), %d instruction(s)\n", res.Ops, res.Instructions)
		if res.Listing != "" {
			fmt.Fprintf(w, "\n%s\n", res.Listing)
		}
		if res.Output != "" {
			fmt.Fprintf(w, "\nWrote artifact to %s\n", res.Output)
		}
	})
}

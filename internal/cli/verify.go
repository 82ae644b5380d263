package cli

import (
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/zk"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Program string
	Trusted bool
}

// VerifyResult reports an accepted proof.
type VerifyResult struct {
	Valid   bool   `json:"valid"`
	Program string `json:"program"`
	Backend string `json:"backend"`
	Public  string `json:"public"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <dir>",
		Short: "Verify a proof written by prove --out",
		Long: `Verify reads proof.bin and public.bin from a directory and checks the
proof with the backend it names.

By default the proof is checked against the program it claims. With
--program it is checked against the given source instead. With --trusted
an attestation must be signed by the configured seed's key.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Program, "program", "", "check the proof against this program source")
	cmd.Flags().BoolVar(&opts.Trusted, "trusted", false, "require attestations from the configured seed")

	return cmd
}

func runVerify(opts *VerifyOptions, dir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cfg := opts.config()

	proof, public, err := readBundle(dir)
	if err != nil {
		return f.Fail("read proof", err, nil)
	}
	program := proof.Program
	if opts.Program != "" {
		src, err := LoadSource(opts.Program, cmd.InOrStdin())
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
		program = a.ProgramID()
	}
	if opts.Trusted && proof.Backend == zk.AttestName {
		want := zk.NewAttestBackend([]byte(cfg.ZK.Seed)).PublicKey()
		if !bytes.Equal(proof.VerifyingKey, want) {
			return f.Fail("verify", untrusted{}, nil)
		}
	}
	b := backendByName(cfg, proof.Backend, opts.logger())
	if err := zk.VerifyProof(cmd.Context(), b, proof, public, program); err != nil {
		return f.Fail("verify", err, nil)
	}
	digest, err := public.Digest()
	if err != nil {
		return f.Fail("hash public inputs", err, nil)
	}
	res := &VerifyResult{Valid: true, Program: program.String(), Backend: proof.Backend, Public: digest.Hex()}
	return f.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "%s proof verifies for program %s (%s)\n", okMark("✓"), program.Short(), res.Backend)
	})
}

type untrusted struct{}

func (untrusted) Error() string { return "attestation is not signed by the configured key" }

func (untrusted) Category() ir.Category { return ir.CategoryResourceState }

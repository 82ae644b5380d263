package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/causality/internal/store"
	"github.com/roach88/causality/internal/zk"
)

// Proof bundle file names.
const (
	ProofFile  = "proof.bin"
	PublicFile = "public.bin"
)

// ProveOptions holds flags for the prove command.
type ProveOptions struct {
	*RootOptions
	Out      string
	Gas      uint64
	Handlers []string
}

// ProveResult reports a generated proof.
type ProveResult struct {
	Source  string `json:"source"`
	Program string `json:"program"`
	Backend string `json:"backend"`
	Proof   string `json:"proof"`
	Public  string `json:"public"`
	Witness string `json:"witness"`
	Steps   int    `json:"steps"`
	Out     string `json:"out,omitempty"`
}

// bundle is a proof with the inputs it was made for.
type bundle struct {
	schema  *zk.Schema
	witness *zk.Witness
	public  *zk.PublicInputs
	proof   *zk.Proof
}

// NewProveCommand creates the prove command.
func NewProveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "prove <file|->",
		Short: "Execute a program and prove its trace",
		Long: `Prove runs a program, builds a witness from its trace under the default
schema, commits the resulting resource states as public inputs and proves
the witness with the configured backend (attest or groth16).

With --out the proof and public inputs are written to proof.bin and
public.bin in that directory, ready for verify.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProve(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "directory for proof.bin and public.bin")
	cmd.Flags().Uint64Var(&opts.Gas, "gas", 0, "gas budget (default from config)")
	cmd.Flags().StringArrayVar(&opts.Handlers, "handler", nil, "host handler tag=op (repeatable)")

	return cmd
}

func runProve(opts *ProveOptions, path string, cmd *cobra.Command) error {
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
	if run.err != nil {
		return f.Fail("run "+src.Path, run.err, nil)
	}
	b, err := e.prove(cmd.Context(), run)
	if err != nil {
		return f.Fail("prove "+src.Path, err, nil)
	}
	res, err := proveResult(src, b)
	if err != nil {
		return f.Fail("hash proof", err, nil)
	}
	if opts.Out != "" {
		if err := writeBundle(opts.Out, b); err != nil {
			return f.Fail("write proof", err, nil)
		}
		res.Out = opts.Out
	}
	return f.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "%s Proved %s with %s\n\n", okMark("✓"), src.Path, res.Backend)
		fmt.Fprintf(w, "  program  %s\n", res.Program)
		fmt.Fprintf(w, "  proof    %s\n", res.Proof)
		fmt.Fprintf(w, "  public   %s\n", res.Public)
		fmt.Fprintf(w, "  witness  %s (%d step(s))\n", res.Witness, res.Steps)
		if res.Out != "" {
			fmt.Fprintf(w, "\nWrote %s and %s to %s\n", ProofFile, PublicFile, res.Out)
		}
	})
}

// prove turns a successful run into a proof bundle. With the sqlite store
// the schema, witness, public inputs and proof are kept as objects.
func (e *env) prove(ctx context.Context, run *execution) (*bundle, error) {
	tr := run.executor.Trace()
	schema, err := zk.DefaultSchema(run.artifact.Program)
	if err != nil {
		return nil, err
	}
	w, err := zk.GenerateWitness(tr, schema, nil)
	if err != nil {
		return nil, err
	}
	public, err := zk.CommitRun(e.domainID(), tr, run.executor.State().Heap)
	if err != nil {
		return nil, err
	}
	backend := e.backend()
	proof, err := backend.Prove(ctx, w, schema, public)
	if err != nil {
		return nil, err
	}
	e.log.Debug("proved",
		zap.String("backend", backend.Name()),
		zap.String("program", tr.Program.Short()),
		zap.Int("steps", len(w.Steps)))
	b := &bundle{schema: schema, witness: w, public: public, proof: proof}
	if e.store != nil {
		if err := e.keep(ctx, b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (e *env) keep(ctx context.Context, b *bundle) error {
	if _, err := e.store.Put(ctx, store.KindSchema, b.schema); err != nil {
		return err
	}
	if _, err := e.store.Put(ctx, store.KindWitness, b.witness); err != nil {
		return err
	}
	if _, err := e.store.Put(ctx, store.KindPublic, b.public); err != nil {
		return err
	}
	id, err := b.proof.ID()
	if err != nil {
		return err
	}
	data, err := b.proof.Bytes()
	if err != nil {
		return err
	}
	return e.store.PutObject(ctx, id, store.KindProof, data)
}

func proveResult(src *Source, b *bundle) (*ProveResult, error) {
	pid, err := b.proof.ID()
	if err != nil {
		return nil, err
	}
	digest, err := b.public.Digest()
	if err != nil {
		return nil, err
	}
	wid, err := b.witness.ID()
	if err != nil {
		return nil, err
	}
	return &ProveResult{
		Source:  src.Path,
		Program: b.proof.Program.String(),
		Backend: b.proof.Backend,
		Proof:   pid.Hex(),
		Public:  digest.Hex(),
		Witness: wid.Hex(),
		Steps:   len(b.witness.Steps),
	}, nil
}

func writeBundle(dir string, b *bundle) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &LoadError{Path: dir, Message: "create directory", Err: err}
	}
	proof, err := b.proof.Bytes()
	if err != nil {
		return err
	}
	public, err := b.public.Bytes()
	if err != nil {
		return err
	}
	for name, data := range map[string][]byte{ProofFile: proof, PublicFile: public} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return &LoadError{Path: path, Message: "write failed", Err: err}
		}
	}
	return nil
}

func readBundle(dir string) (*zk.Proof, *zk.PublicInputs, error) {
	read := func(name string) ([]byte, error) {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &LoadError{Path: path, Message: "read failed", Err: err}
		}
		return data, nil
	}
	data, err := read(ProofFile)
	if err != nil {
		return nil, nil, err
	}
	proof, err := zk.DecodeProof(data)
	if err != nil {
		return nil, nil, err
	}
	if data, err = read(PublicFile); err != nil {
		return nil, nil, err
	}
	public, err := zk.DecodePublicInputs(data)
	if err != nil {
		return nil, nil, err
	}
	return proof, public, nil
}

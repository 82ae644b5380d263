package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/causality/internal/domain"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	DryRun   bool
	GasLimit uint64
	GasPrice uint64
	Gas      uint64
	Handlers []string
}

// SubmitResult reports a receipt from the local domain.
type SubmitResult struct {
	Source      string `json:"source"`
	Program     string `json:"program"`
	Domain      string `json:"domain"`
	TxID        string `json:"tx_id,omitempty"`
	GasUsed     uint64 `json:"gas_used"`
	GasEstimate uint64 `json:"gas_estimate"`
	BlockNumber uint64 `json:"block_number"`
	DryRun      bool   `json:"dry_run"`
	States      int    `json:"states"`
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <file|->",
		Short: "Run, prove and submit a program to the local domain",
		Long: `Submit runs and proves a program, then sends the proof with its public
inputs and resulting resource states through a gateway to an in-process
ledger named by domain.id. The ledger verifies the proof with the
configured backend before committing.

A zero --gas-limit uses the domain's estimate. --dry-run verifies and
prices the submission without committing it.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "verify and price without committing")
	cmd.Flags().Uint64Var(&opts.GasLimit, "gas-limit", 0, "domain gas limit (0 uses the estimate)")
	cmd.Flags().Uint64Var(&opts.GasPrice, "gas-price", 1, "domain gas price")
	cmd.Flags().Uint64Var(&opts.Gas, "gas", 0, "execution gas budget (default from config)")
	cmd.Flags().StringArrayVar(&opts.Handlers, "handler", nil, "host handler tag=op (repeatable)")

	return cmd
}

func runSubmit(opts *SubmitOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

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

	run, err := e.execute(ctx, src, e.executorOptions(handlers, opts.Gas))
	if err != nil {
		return f.Fail("run "+src.Path, err, nil)
	}
	if run.err != nil {
		return f.Fail("run "+src.Path, run.err, nil)
	}
	b, err := e.prove(ctx, run)
	if err != nil {
		return f.Fail("prove "+src.Path, err, nil)
	}

	backend := e.backend()
	local := domain.NewLocalDomain(e.cfg.Domain.ID,
		domain.WithLocalLogger(e.log.Named("domain")),
		domain.WithVerifier(backend.Name(), backend))
	gw := domain.NewGateway(local,
		domain.WithTimeout(e.cfg.Domain.TimeoutDuration()),
		domain.WithRetries(e.cfg.Domain.Retries),
		domain.WithLogger(e.log.Named("gateway")))

	sub := &domain.Submission{
		Program: run.artifact.ProgramID(),
		Target:  local.ID(),
		Public:  b.public,
		Proof:   b.proof,
		Gas:     domain.GasParams{Limit: opts.GasLimit, Price: opts.GasPrice},
		DryRun:  opts.DryRun,
		States:  domain.ResourceStates(run.executor.Trace()),
	}
	if sub.Gas.Limit == 0 {
		if sub.Gas.Limit, err = domain.EstimateGas(sub); err != nil {
			return f.Fail("estimate gas", err, nil)
		}
	}
	rc, err := gw.Submit(ctx, sub)
	if err != nil {
		return f.Fail("submit "+src.Path, err, nil)
	}
	if e.store != nil && !rc.DryRun {
		if err := e.store.WriteReceipt(ctx, sub.Target, sub.Program, rc); err != nil {
			return f.Fail("store receipt", err, nil)
		}
		e.log.Debug("receipt stored", zap.String("tx", rc.TxID.Short()))
	}

	res := &SubmitResult{
		Source:      src.Path,
		Program:     sub.Program.String(),
		Domain:      sub.Target.String(),
		GasUsed:     rc.GasUsed,
		GasEstimate: rc.GasEstimate,
		BlockNumber: rc.BlockNumber,
		DryRun:      rc.DryRun,
		States:      len(sub.States),
	}
	if !rc.DryRun {
		res.TxID = rc.TxID.Hex()
	}
	return f.Success(res, func(w io.Writer) {
		if res.DryRun {
			fmt.Fprintf(w, "%s dry run of %s accepted, estimated gas %d\n", okMark("✓"), src.Path, res.GasEstimate)
			return
		}
		fmt.Fprintf(w, "%s Submitted %s to %s\n\n", okMark("✓"), src.Path, e.cfg.Domain.ID)
		fmt.Fprintf(w, "  tx      %s\n", res.TxID)
		fmt.Fprintf(w, "  block   %d\n", res.BlockNumber)
		fmt.Fprintf(w, "  gas     %d used\n", res.GasUsed)
		fmt.Fprintf(w, "  states  %d resource(s)\n", res.States)
	})
}

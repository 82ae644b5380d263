package cli

import (
	"fmt"
	"slices"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/causality/internal/config"
	"github.com/roach88/causality/internal/logging"
)

// RootOptions holds global flags for all commands, and the configuration
// and logger they resolve to.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string
	Color   string // "auto" | "on" | "off"

	cfg *config.Config
	log *zap.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

var validColors = []string{"auto", "on", "off"}

// NewRootCommand creates the root command for the causality CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "causality",
		Short: "Causality - linear resources, effects and proofs",
		Long: `Compile, execute, prove and submit programs over linear resources.

Programs are S-expressions lowered through an effect graph onto a register
machine. Every run produces a content-addressed trace that can be replayed,
turned into a witness and proven for submission to a domain.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.setup(); err != nil {
				return opts.formatter(cmd).Fail("configure", err, nil)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "config file (.cue, .toml or .yaml)")
	cmd.PersistentFlags().StringVar(&opts.Color, "color", "auto", "colorize output (auto|on|off)")

	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))
	cmd.AddCommand(NewProveCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

func (o *RootOptions) setup() error {
	if !slices.Contains(ValidFormats, o.Format) {
		return NewExitError(ExitValidation, fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}
	switch o.Color {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	case "auto":
	default:
		return NewExitError(ExitValidation, fmt.Sprintf("invalid color %q: must be one of %v", o.Color, validColors))
	}
	cfg := config.Default()
	if o.Config != "" {
		var err error
		if cfg, err = config.Load(o.Config); err != nil {
			return WrapExitError(ExitValidation, "load config", err)
		}
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return WrapExitError(ExitValidation, "configure logging", err)
	}
	o.cfg, o.log = cfg, log
	return nil
}

// config returns the resolved configuration, falling back to defaults
// when a command runs without the root's pre-run hook.
func (o *RootOptions) config() *config.Config {
	if o.cfg == nil {
		o.cfg = config.Default()
	}
	return o.cfg
}

func (o *RootOptions) logger() *zap.Logger {
	if o.log == nil {
		o.log = zap.NewNop()
	}
	return o.log
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

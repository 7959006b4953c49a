package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Output format constants.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{OutputText, OutputJSON}

// RootOptions holds global settings for all commands after flags, the
// environment and the config file have been merged.
type RootOptions struct {
	ConfigFile string
	Database   string
	Network    string
	Format     string
	Verbose    bool

	// Resolved in PersistentPreRunE.
	Params *chaincfg.Params
	Logger zerolog.Logger
}

// Formatter returns an OutputFormatter for cmd's output streams.
func (o *RootOptions) Formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// NewRootCommand creates the hsmctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	v := newViper()

	cmd := &cobra.Command{
		Use:   "hsmctl",
		Short: "hsmctl - policy-gated PSBT signing",
		Long: `hsmctl provisions a signing vault from a seed and a policy catalog,
seals it, and signs partially signed bitcoin transactions that at least one
policy approves.

Settings may come from flags, HSMCTL_* environment variables or a YAML
config file given with --config.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(v, cmd, opts); err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			opts.Logger = newLogger(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "hsm.db", "path to the policy catalog")
	cmd.PersistentFlags().StringVar(&opts.Network, "network", "mainnet", "bitcoin network (mainnet|testnet3|regtest|signet)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", OutputText, "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewPolicyCommand(opts))
	cmd.AddCommand(NewSignCommand(opts))

	return cmd
}

// Execute runs hsmctl with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	// Errors cobra raises itself (unknown flags, missing arguments) carry
	// no exit code.
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintf(stderr, "hsmctl: %v\n", err)
		return ExitCommandError
	}
	if !exitErr.Reported {
		fmt.Fprintf(stderr, "hsmctl: %v\n", err)
	}
	return exitErr.Code
}

// newLogger builds the console logger used by every command.
func newLogger(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	console := zerolog.ConsoleWriter{Out: zerolog.SyncWriter(w), NoColor: !isTerminal(w)}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

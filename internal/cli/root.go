// Package cli implements the stablecall command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/stablecall/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose      bool
	Format       string // "json" | "text"
	DB           string
	StrictLayout bool

	// Config is the environment configuration flag defaults came from.
	Config config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. Flag defaults come from the
// STABLECALL_* environment; flags override them.
func NewRootCommand() *cobra.Command {
	cfg, cfgErr := config.Load()
	if cfgErr != nil {
		cfg = config.Config{DBPath: "stablecall.db", Listen: "127.0.0.1:8547", LogLevel: "info"}
	}
	opts := &RootOptions{Config: cfg}

	cmd := &cobra.Command{
		Use:   "stablecall",
		Short: "stablecall - upgradeable proxies over swappable logic modules",
		Long: `stablecall keeps one stable address per proxy while the logic behind it
is replaced over time. Proxies own their storage; logic modules are
deployed once, referenced by content hash, and swapped by the owner.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgErr != nil {
				return WrapExitError(ExitCommandError, "invalid environment", cfgErr)
			}
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			level, err := opts.Config.Level()
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid log level", err)
			}
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), level))
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", cfg.DBPath, "path to the SQLite database (STABLECALL_DB)")
	cmd.PersistentFlags().BoolVar(&opts.StrictLayout, "strict-layout", cfg.StrictLayout,
		"reject upgrades that are not append-only layout extensions (STABLECALL_STRICT_LAYOUT)")

	cmd.AddCommand(NewDeployModuleCommand(opts))
	cmd.AddCommand(NewDeployProxyCommand(opts))
	cmd.AddCommand(NewCallCommand(opts))
	cmd.AddCommand(NewUpgradeCommand(opts))
	cmd.AddCommand(NewTransferOwnershipCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewLayoutCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
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

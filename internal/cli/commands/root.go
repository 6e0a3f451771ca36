package commands

import (
	"context"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dynejs/db/internal/cli/ui"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// globalOptions holds the persistent flags shared by every subcommand
type globalOptions struct {
	configPath string
	verbose    bool
	noColor    bool
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	return newRootCommand(&globalOptions{})
}

func newRootCommand(opts *globalOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dynedb",
		Short: "Migration tooling for dyne models",
		Long: color.CyanString(`dynedb - database tooling for dyne models

Runs SQL and YAML migrations in batches against PostgreSQL or SQLite,
rolls back the most recent batch and reports migration status.

Configuration is read from dynedb.yml in the working directory (or
--config) and from DYNEDB_* environment variables.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default ./dynedb.yml)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "show driver errors and debug logs")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(newMigrateCommand(opts))
	rootCmd.AddCommand(newRollbackCommand(opts))
	rootCmd.AddCommand(newStatusCommand(opts))

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			table := ui.NewKeyValueTable(cmd.OutOrStdout(), color.NoColor)
			table.AddRow("dynedb version", Version)
			table.AddRow("Git commit", GitCommit)
			table.AddRow("Build date", BuildDate)
			table.AddRow("Go version", goVer)
			table.Render()
		},
	}
}

// Execute runs the root command and prints any failure
func Execute(ctx context.Context, args []string) error {
	opts := &globalOptions{}
	rootCmd := newRootCommand(opts)
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		reportError(rootCmd.ErrOrStderr(), err, opts)
		return err
	}
	return nil
}

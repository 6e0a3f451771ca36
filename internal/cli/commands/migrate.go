package commands

import (
	"fmt"
	"io"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dynejs/db/internal/cli/ui"
	"github.com/dynejs/db/internal/orm/migrate"
)

// confirm asks a yes/no question on the terminal
var confirm = func(message string) (bool, error) {
	ok := false
	prompt := &survey.Confirm{Message: message, Default: false}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

func newMigrateCommand(opts *globalOptions) *cobra.Command {
	var dirs []string

	cmd := &cobra.Command{
		Use:     "migrate",
		Aliases: []string{"migration:migrate"},
		Short:   "Apply all pending migrations",
		Long: `Apply every pending migration as one batch.

Migrations are read from migrations.dirs in dynedb.yml plus any --dir.
A migration is either a pair of SQL files:
  20240101120000_create_users.up.sql
  20240101120000_create_users.down.sql
or a single YAML file with up and down keys:
  20240101120000_create_users.yml

Migrations run in file name order, each in its own transaction.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			applied, err := s.migrator.Migrate(cmd.Context(), dirs...)
			printMigrations(out, "↑", color.FgGreen, applied, opts.noColor)
			if err != nil {
				return &stageError{stage: stageMigrate, err: err}
			}

			if len(applied) == 0 {
				fmt.Fprint(out, ui.Info("Nothing to migrate", opts.noColor))
				return nil
			}
			ui.WriteSuccess(out, fmt.Sprintf("Applied %d migration(s)", len(applied)), opts.noColor)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&dirs, "dir", nil, "additional migration directory (repeatable)")
	return cmd
}

func newRollbackCommand(opts *globalOptions) *cobra.Command {
	var (
		dirs []string
		yes  bool
	)

	cmd := &cobra.Command{
		Use:     "rollback",
		Aliases: []string{"migration:rollback"},
		Short:   "Roll back the last batch of migrations",
		Long:    "Revert every migration of the most recent batch, newest first, using their down SQL.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if !yes {
				ok, err := confirm("Roll back the last migration batch?")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprint(out, ui.Info("Rollback cancelled", opts.noColor))
					return nil
				}
			}

			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			reverted, err := s.migrator.Rollback(cmd.Context(), dirs...)
			printMigrations(out, "↓", color.FgYellow, reverted, opts.noColor)
			if err != nil {
				return &stageError{stage: stageRollback, err: err}
			}

			if len(reverted) == 0 {
				fmt.Fprint(out, ui.Info("Nothing to roll back", opts.noColor))
				return nil
			}
			ui.WriteSuccess(out, fmt.Sprintf("Rolled back %d migration(s)", len(reverted)), opts.noColor)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&dirs, "dir", nil, "additional migration directory (repeatable)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newStatusCommand(opts *globalOptions) *cobra.Command {
	var dirs []string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			statuses, err := s.migrator.Status(cmd.Context(), dirs...)
			if err != nil {
				return &stageError{stage: stageStatus, err: err}
			}

			out := cmd.OutOrStdout()
			if len(statuses) == 0 {
				fmt.Fprint(out, ui.Info("No migrations found", opts.noColor))
				return nil
			}
			renderStatus(out, statuses, opts.noColor)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&dirs, "dir", nil, "additional migration directory (repeatable)")
	return cmd
}

func renderStatus(w io.Writer, statuses []migrate.Status, noColor bool) {
	ui.Header(w, "Migrations", noColor)

	table := ui.NewTable(w, []string{"Migration", "State", "Batch", "Applied at"}, &ui.TableOptions{NoColor: noColor})
	pending, missing := 0, 0
	for _, st := range statuses {
		switch {
		case st.Missing:
			missing++
			table.AddColoredRow(color.New(color.FgRed), st.Name, "missing", strconv.Itoa(st.Batch), st.MigrationTime.Format("2006-01-02 15:04:05"))
		case st.Applied:
			table.AddColoredRow(color.New(color.FgGreen), st.Name, "applied", strconv.Itoa(st.Batch), st.MigrationTime.Format("2006-01-02 15:04:05"))
		default:
			pending++
			table.AddColoredRow(color.New(color.FgYellow), st.Name, "pending", "", "")
		}
	}
	table.Render()

	fmt.Fprintf(w, "\n%d migration(s), %d pending\n", len(statuses), pending)
	if missing > 0 {
		fmt.Fprint(w, ui.Warning(
			fmt.Sprintf("%d applied migration(s) are missing from the migration directories", missing),
			[]string{"restore the files before rolling back their batch"},
			noColor,
		))
	}
}

func printMigrations(w io.Writer, arrow string, fg color.Attribute, migrations []*migrate.Migration, noColor bool) {
	c := color.New(fg)
	if noColor {
		c.DisableColor()
	}
	for _, m := range migrations {
		c.Fprintf(w, "  %s %s\n", arrow, m.Name)
	}
}

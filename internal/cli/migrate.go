package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stiffinWanjohi/bulkmail/internal/app"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the campaign database schema",
	}
	cmd.AddCommand(newMigrateUpCmd(), newMigrateDownCmd(), newMigrateVersionCmd())
	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := newPrinter(cmd.OutOrStdout())
			out.step(1, 1, "Running database migrations... ")
			if err := app.MigrateUp(cfg.Database.URL); err != nil {
				out.failed()
				return err
			}
			out.ok()
			return nil
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := newPrinter(cmd.OutOrStdout())
			label := "all migrations"
			if steps > 0 {
				label = fmt.Sprintf("%d migration(s)", steps)
			}
			out.step(1, 1, "Rolling back "+label+"... ")
			if err := app.MigrateDown(cfg.Database.URL, steps); err != nil {
				out.failed()
				return err
			}
			out.ok()
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back (0 = all)")

	return cmd
}

func newMigrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			version, dirty, err := app.MigrationVersion(cfg.Database.URL)
			if err != nil {
				return err
			}
			out := newPrinter(cmd.OutOrStdout())
			state := out.success("clean")
			if dirty {
				state = out.fail("dirty")
			}
			out.printf("schema version %d (%s)\n", version, state)
			return nil
		},
	}
}

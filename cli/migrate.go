package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/taskdeck/taskdeck/engine/infra/postgres"
	"github.com/taskdeck/taskdeck/pkg/config"
)

// MigrateCmd applies pending database migrations, or lists them with --status.
func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			dsn := config.FromContext(ctx).Database.DSN()
			showStatus, err := cmd.Flags().GetBool("status")
			if err != nil {
				return err
			}
			if !showStatus {
				return postgres.ApplyMigrations(ctx, dsn)
			}
			states, err := postgres.MigrationStatus(ctx, dsn)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range states {
				mark := "pending"
				if s.Applied {
					mark = "applied"
				}
				fmt.Fprintf(out, "%-8s %d %s\n", mark, s.Version, s.Source)
			}
			return nil
		},
	}
	cmd.Flags().String("db-conn", "", "Database connection string (env: DB_CONN_STRING)")
	cmd.Flags().Bool("status", false, "List migrations and whether they have been applied")
	return cmd
}

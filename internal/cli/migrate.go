package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tOgg1/omega/internal/db"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations",
	Long: `Manage database schema migrations.

Commands:
  up       Apply pending migrations
  status   Show migration status
  version  Show current schema version`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabaseNoMigrate()
		if err != nil {
			return err
		}
		defer database.Close()

		applied, err := database.MigrateUp(cmd.Context())
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		if jsonOutput || jsonlOutput {
			return WriteOutput(os.Stdout, map[string]int{"applied": applied})
		}
		if applied == 0 {
			cmd.Println("No pending migrations")
		} else {
			cmd.Printf("Applied %d migration(s)\n", applied)
		}
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabaseNoMigrate()
		if err != nil {
			return err
		}
		defer database.Close()

		status, err := database.MigrationStatus(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		if jsonOutput || jsonlOutput {
			return WriteOutput(os.Stdout, status)
		}

		w := newTabWriter(os.Stdout)
		fmt.Fprintln(w, "VERSION\tDESCRIPTION\tSTATUS\tAPPLIED AT")
		for _, s := range status {
			statusStr := "pending"
			appliedAt := "-"
			if s.Applied {
				statusStr = "applied"
				appliedAt = s.AppliedAt
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, s.Description, statusStr, appliedAt)
		}
		return w.Flush()
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabaseNoMigrate()
		if err != nil {
			return err
		}
		defer database.Close()

		version, err := database.SchemaVersion(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get schema version: %w", err)
		}
		if jsonOutput || jsonlOutput {
			return WriteOutput(os.Stdout, map[string]int{"version": version})
		}
		cmd.Printf("Schema version: %d\n", version)
		return nil
	},
}

// openDatabase opens the configured database and applies pending migrations.
func openDatabase(ctx context.Context) (*db.DB, error) {
	database, err := openDatabaseNoMigrate()
	if err != nil {
		return nil, err
	}
	applied, err := database.MigrateUp(ctx)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("auto-migrate failed: %w", err)
	}
	if applied > 0 {
		logger.Info().Int("applied", applied).Msg("database migrated")
	}
	return database, nil
}

func openDatabaseNoMigrate() (*db.DB, error) {
	if appConfig == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	if appConfig.Database.InMemory {
		return db.OpenInMemory()
	}
	return db.Open(db.Config{
		Path:          appConfig.DatabasePath(),
		MaxOpenConns:  appConfig.Database.MaxConnections,
		BusyTimeoutMs: appConfig.Database.BusyTimeoutMs,
	})
}

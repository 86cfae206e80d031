package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"keyward/internal/database"
)

var (
	migrateDatabaseURL string
	migratePath        string
	migrateVersion     int
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|force|drop]",
	Short:     "Run Postgres schema migrations",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "force", "drop"},
	RunE: func(cmd *cobra.Command, args []string) error {
		databaseURL := migrateDatabaseURL
		if databaseURL == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			databaseURL = cfg.DatabaseURL
		}

		driver, err := database.DetectDriver(databaseURL)
		if err != nil {
			return err
		}
		if driver != database.DriverPostgres {
			return fmt.Errorf("migrations apply to postgres only; sqlite schemas are created on startup")
		}

		if err := database.RunMigration(databaseURL, migratePath, args[0], migrateVersion); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Migration %s completed\n", args[0])
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDatabaseURL, "database-url", "", "Database URL (defaults to database_url from config)")
	migrateCmd.Flags().StringVar(&migratePath, "path", "migrations", "Path to migrations folder")
	migrateCmd.Flags().IntVar(&migrateVersion, "version", -1, "Migration version (required for force)")

	rootCmd.AddCommand(migrateCmd)
}

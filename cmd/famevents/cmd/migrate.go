package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/famevents/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		// Open migrates as part of connecting.
		db, err := database.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		v, err := database.Version(db)
		if err != nil {
			return err
		}
		logger.Info("database migrated", "path", cfg.DBPath, "version", v)
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
		return nil
	},
}

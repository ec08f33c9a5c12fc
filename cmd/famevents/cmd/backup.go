package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/famevents/internal/backup"
	"github.com/dukerupert/famevents/internal/database"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Take an encrypted snapshot of the database",
	Long: `Snapshot the database, encrypt it with the backup passphrase and write
it to the backup directory. When S3 credentials are configured the
snapshot is uploaded as well. Snapshots older than the retention period
are pruned afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Backup.Passphrase == "" {
			return fmt.Errorf("backup passphrase is not set (FAMEVENTS_BACKUP_PASSPHRASE)")
		}

		db, err := database.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		res, err := backup.NewManager(db, cfg.Backup.Manager(), logger.With("component", "backup")).Run(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Path)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local snapshots, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		names, err := backup.NewManager(nil, cfg.Backup.Manager(), logger).List()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <snapshot>",
	Short: "Replace the database with a decrypted snapshot",
	Long: `Decrypt a snapshot, verify its integrity and replace the database file
with it. Stop the server first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if err := backup.Restore(cmd.Context(), args[0], cfg.DBPath, cfg.Backup.Passphrase); err != nil {
			return err
		}
		logger.Info("database restored", "from", args[0], "to", cfg.DBPath)
		return nil
	},
}

func init() {
	backupCmd.AddCommand(backupListCmd)
}

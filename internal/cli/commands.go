package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/eval-dashboard/backend/internal/backup"
	"github.com/eval-dashboard/backend/internal/evaluation"
	"github.com/eval-dashboard/backend/internal/ingestion"
	"github.com/eval-dashboard/backend/internal/labels"
)

var ErrUnhealthy = errors.New("store is unhealthy")

// NewHealthCommand creates the health command.
func NewHealthCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Connect to the store and run its self-test",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}

			m, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer m.Close()

			info := m.Info(cmd.Context())
			if err := writeJSON(cmd.OutOrStdout(), info); err != nil {
				return err
			}
			if !info.Healthy {
				return ErrUnhealthy
			}
			return nil
		},
	}
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the stats overview",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}

			m, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer m.Close()

			db, err := m.Conn()
			if err != nil {
				return err
			}

			repo := evaluation.NewRepository(db, evaluation.WithStatsTTL(cfg.Stats.CacheTTL()))
			snap, err := repo.StatsOverview(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), snap)
		},
	}
}

// NewBackupCommand creates the backup command.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	var maxBackups int

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the data directory and prune old archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}

			keep := cfg.Backup.MaxBackups
			if cmd.Flags().Changed("max-backups") {
				keep = maxBackups
			}

			res, err := backup.Archive(cmd.Context(), backup.Options{
				DataDir:    cfg.Backup.DataDir,
				BackupDir:  cfg.Backup.BackupDir,
				MaxBackups: keep,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().IntVar(&maxBackups, "max-backups", backup.DefaultMaxBackups, "number of archives to keep")

	return cmd
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file-or-dir>",
		Short: "Save exported evaluation JSON documents into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}

			m, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer m.Close()

			db, err := m.Conn()
			if err != nil {
				return err
			}

			repo := evaluation.NewRepository(db,
				evaluation.WithStatsTTL(cfg.Stats.CacheTTL()),
				evaluation.WithLabelSeeder(labels.NewRepository(db)),
			)
			report, err := ingestion.NewImporter(repo).ImportPath(cmd.Context(), args[0])
			if report != nil {
				if werr := writeJSON(cmd.OutOrStdout(), report); werr != nil && err == nil {
					err = werr
				}
			}
			return err
		},
	}
}

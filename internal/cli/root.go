package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/eval-dashboard/backend/internal/storage/sqlite"
	"github.com/eval-dashboard/backend/pkg/config"
	"github.com/eval-dashboard/backend/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command for evalctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "evalctl",
		Short:         "Operate the evaluation dashboard store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Logs go to stderr so JSON output stays parseable.
			level := "warn"
			if opts.Verbose {
				level = "debug"
			}
			return logger.Init(level, "console", "stderr")
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config file (default: search ./config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log debug output to stderr")

	cmd.AddCommand(NewHealthCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))

	return cmd
}

func (o *RootOptions) load() (*config.Config, error) {
	cfg, err := config.LoadFile(o.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// connect opens the store described by cfg. The caller must close the
// returned manager.
func connect(ctx context.Context, cfg *config.Config) (*sqlite.Manager, error) {
	m := sqlite.NewManager(sqlite.Options{
		MaxAttempts: cfg.SQLite.MaxAttempts,
		RetryDelay:  cfg.SQLite.RetryDelay(),
	})
	if _, err := m.Initialize(ctx, cfg.SQLite.Path); err != nil {
		return nil, err
	}
	return m, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

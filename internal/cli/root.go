// Package cli implements the thoughtbot command line.
package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/d60-Lab/thought-board/config"
	"github.com/d60-Lab/thought-board/pkg/logger"
	"github.com/d60-Lab/thought-board/pkg/monitor"
)

// RootOptions 全局参数
type RootOptions struct {
	ConfigDir string
	Version   string

	cfg *config.Config
}

// NewRootCommand 构建命令树
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{Version: version}

	cmd := &cobra.Command{
		Use:           "thoughtbot",
		Short:         "Discord thought board bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var paths []string
			if opts.ConfigDir != "" {
				paths = append(paths, opts.ConfigDir)
			}
			cfg, err := config.Load(paths...)
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
				return err
			}
			if err := monitor.Init(cfg.Sentry, opts.Version); err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			monitor.Flush(2 * time.Second)
			_ = logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigDir, "config", "", "directory containing config.yaml")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewRecoverCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	return cmd
}

// Package tracker exposes the standalone tracker batch operations.
package tracker

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/modforge/internal/config"
	"github.com/user/modforge/internal/logger"
	"github.com/user/modforge/internal/trackersync"
	"github.com/user/modforge/pkg/taiga"
)

var (
	configFile string
	beta       bool
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tracker",
		Short: "Issue tracker maintenance operations",
	}

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "Path to config file")

	sortCmd := &cobra.Command{
		Use:   "sort",
		Short: "Sort every board column by story tag",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSynchronizer(func(ctx context.Context, sync *trackersync.Synchronizer) error {
				return sync.SortBacklog(ctx)
			})
		},
	}

	attachCmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach release- and beta-tagged stories to their current epic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSynchronizer(func(ctx context.Context, sync *trackersync.Synchronizer) error {
				return sync.AttachTagged(ctx)
			})
		},
	}

	autoMoveCmd := &cobra.Command{
		Use:   "auto-move",
		Short: "Promote in-test stories whose tested checkbox is set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSynchronizer(func(ctx context.Context, sync *trackersync.Synchronizer) error {
				return sync.AutoMoveTested(ctx)
			})
		},
	}

	newVersionCmd := &cobra.Command{
		Use:   "new-version <name>",
		Short: "Register a version tag and, for betas, promote fixed stories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSynchronizer(func(ctx context.Context, sync *trackersync.Synchronizer) error {
				return sync.NewVersion(ctx, beta, args[0])
			})
		},
	}
	newVersionCmd.Flags().BoolVar(&beta, "beta", false, "Treat the new version as a beta")

	cmd.AddCommand(sortCmd, attachCmd, autoMoveCmd, newVersionCmd)
	return cmd
}

func withSynchronizer(fn func(ctx context.Context, sync *trackersync.Synchronizer) error) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()
	client := taiga.NewClient(cfg.Tracker.BaseURL, cfg.Tracker.Username, cfg.Tracker.Password, cfg.Tracker.ProjectID)
	if err := client.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticating to tracker: %w", err)
	}

	sync := trackersync.New(client, cfg.Tracker, cfg.Build.ReportPath, nil)
	if err := fn(ctx, sync); err != nil {
		return err
	}
	logger.Info().Msg("Tracker operation finished")
	return nil
}

package commands

import (
	"github.com/spf13/cobra"

	"github.com/user/modforge/internal/commands/serve"
	"github.com/user/modforge/internal/commands/tracker"
)

var rootCmd = &cobra.Command{
	Use:   "modforge",
	Short: "Release automation for the mod project",
}

func init() {
	rootCmd.AddCommand(serve.NewCommand())
	rootCmd.AddCommand(tracker.NewCommand())
}

func Execute() error {
	return rootCmd.Execute()
}

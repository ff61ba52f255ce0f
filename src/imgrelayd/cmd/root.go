package cmd

import (
	"log/slog"
	"os"

	"github.com/q-controller/imgrelay/src/pkg/logging"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "imgrelayd",
	Short: "Fetches, transforms and temporarily serves images",
}

func Execute() {
	slog.SetDefault(logging.CreateLogger(logging.LevelFromEnv(slog.LevelInfo)))
	err := rootCmd.Execute()
	if err != nil {
		slog.Error("failed to execute command", "error", err)
		os.Exit(1)
	}
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dotsetlabs/dotclaw/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/dotsetlabs/dotclaw/cmd.Version=v1.0.0"
var Version = "dev"

var (
	homeDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "dotclaw",
	Short: "DotClaw — container-isolated group-chat agent host",
	Long:  "DotClaw: a single host process that bridges Telegram/Discord chats to a per-group containerized agent, with lane-prioritized scheduling, task/job queues, and durable memory recall.",
	Run: func(cmd *cobra.Command, args []string) {
		runStart()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "data root (default: $DOTCLAW_HOME or ~/.dotclaw)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(bootstrapCmd())
	rootCmd.AddCommand(buildCmd())
	rootCmd.AddCommand(benchmarkCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dotclaw %s\n", Version)
		},
	}
}

func resolvePaths() (*config.Paths, error) {
	return config.NewPaths(homeDir)
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

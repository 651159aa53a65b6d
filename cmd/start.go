package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dotsetlabs/dotclaw/internal/config"
	"github.com/dotsetlabs/dotclaw/internal/host"
)

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the gateway: channels, scheduler, jobs, and maintenance loop",
		Run: func(cmd *cobra.Command, args []string) {
			runStart()
		},
	}
}

func runStart() {
	paths, err := resolvePaths()
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve data root: %s\n", err)
		os.Exit(1)
	}
	cfg, secrets, err := config.Load(paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %s\n", err)
		os.Exit(1)
	}

	h, err := host.Build(paths, cfg, secrets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build host: %s\n", err)
		os.Exit(1)
	}

	if err := h.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "dotclaw exited with error: %s\n", err)
		os.Exit(1)
	}
}

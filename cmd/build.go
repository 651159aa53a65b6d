package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/dotsetlabs/dotclaw/internal/config"
)

func buildCmd() *cobra.Command {
	var contextDir string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the per-group agent container image",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(contextDir)
		},
	}
	cmd.Flags().StringVar(&contextDir, "context", "docker", "build context directory containing the agent Dockerfile")
	return cmd
}

func runBuild(contextDir string) error {
	paths, err := resolvePaths()
	if err != nil {
		return fmt.Errorf("resolve data root: %w", err)
	}
	cfg, _, err := config.Load(paths)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	image := cfg.Runtime.Container.Image
	if image == "" {
		image = "dotclaw-agent:latest"
	}

	if _, err := os.Stat(contextDir); err != nil {
		return fmt.Errorf("build context %s not found: %w", contextDir, err)
	}

	fmt.Printf("Building %s from %s...\n", image, contextDir)
	c := exec.Command("docker", "build", "-t", image, contextDir)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return fmt.Errorf("docker build: %w", err)
	}
	fmt.Printf("Built %s\n", image)
	return nil
}

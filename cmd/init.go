package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dotsetlabs/dotclaw/internal/config"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the data root layout and seed default config files",
		Run: func(cmd *cobra.Command, args []string) {
			runInit()
		},
	}
}

func runInit() {
	paths, err := resolvePaths()
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve data root: %s\n", err)
		os.Exit(1)
	}
	if err := paths.Ensure(); err != nil {
		fmt.Fprintf(os.Stderr, "create data root layout: %s\n", err)
		os.Exit(1)
	}

	cfg := config.Default()

	if _, err := os.Stat(paths.RuntimeConfigFile()); os.IsNotExist(err) {
		if err := config.SaveRuntime(paths, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "write runtime.json: %s\n", err)
			os.Exit(1)
		}
	}
	if _, err := os.Stat(paths.ModelConfigFile()); os.IsNotExist(err) {
		if err := config.SaveModel(paths, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "write model.json: %s\n", err)
			os.Exit(1)
		}
	}
	if _, err := os.Stat(paths.EnvFile()); os.IsNotExist(err) {
		template := "# DotClaw secrets — never committed, read by config.Load\n" +
			"# OPENROUTER_API_KEY=\n" +
			"# DOTCLAW_TELEGRAM_TOKEN=\n" +
			"# DOTCLAW_DISCORD_TOKEN=\n"
		if err := os.WriteFile(paths.EnvFile(), []byte(template), 0o600); err != nil {
			fmt.Fprintf(os.Stderr, "write .env template: %s\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("Initialized data root at %s\n", paths.Home)
	fmt.Println("Edit .env and config/*.json, then run: dotclaw start")
}

package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/dotsetlabs/dotclaw/internal/config"
)

func bootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Interactively configure secrets and enabled channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap()
		},
	}
}

func runBootstrap() error {
	paths, err := resolvePaths()
	if err != nil {
		return fmt.Errorf("resolve data root: %w", err)
	}
	if err := paths.Ensure(); err != nil {
		return fmt.Errorf("create data root layout: %w", err)
	}

	var (
		openrouterKey  string
		telegramToken  string
		discordToken   string
		enableTelegram bool
		enableDiscord  bool
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("OpenRouter API key").
				Value(&openrouterKey),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable the Telegram channel?").
				Value(&enableTelegram),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				Value(&telegramToken),
		).WithHideFunc(func() bool { return !enableTelegram }),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable the Discord channel?").
				Value(&enableDiscord),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Discord bot token").
				Value(&discordToken),
		).WithHideFunc(func() bool { return !enableDiscord }),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("bootstrap form: %w", err)
	}

	env := "# DotClaw secrets — never committed, read by config.Load\n"
	if openrouterKey != "" {
		env += "OPENROUTER_API_KEY=" + openrouterKey + "\n"
	}
	if telegramToken != "" {
		env += "DOTCLAW_TELEGRAM_TOKEN=" + telegramToken + "\n"
	}
	if discordToken != "" {
		env += "DOTCLAW_DISCORD_TOKEN=" + discordToken + "\n"
	}
	if err := os.WriteFile(paths.EnvFile(), []byte(env), 0o600); err != nil {
		return fmt.Errorf("write .env: %w", err)
	}

	cfg := config.Default()
	cfg.Channels.Telegram.Enabled = enableTelegram
	cfg.Channels.Discord.Enabled = enableDiscord
	if err := config.SaveRuntime(paths, cfg); err != nil {
		return fmt.Errorf("write runtime.json: %w", err)
	}
	if err := config.SaveModel(paths, cfg); err != nil {
		return fmt.Errorf("write model.json: %w", err)
	}

	fmt.Println("Bootstrap complete. Run: dotclaw doctor, then dotclaw start")
	return nil
}

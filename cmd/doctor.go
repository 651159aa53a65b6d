package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotsetlabs/dotclaw/internal/config"
	"github.com/dotsetlabs/dotclaw/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the data root, Docker, SQLite, and secrets health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("dotclaw doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	paths, err := resolvePaths()
	if err != nil {
		fmt.Printf("  Data root: RESOLVE FAILED (%s)\n", err)
		return
	}
	fmt.Printf("  Data root: %s", paths.Home)
	checkWritable(paths.Home)

	cfg, _, err := config.Load(paths)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Store:")
	checkSQLite("messages.db", paths.MessagesDB())
	checkSQLite("memory.db", paths.MemoryDB())

	fmt.Println()
	fmt.Println("  Docker:")
	checkBinary("docker")
	checkDockerDaemon()

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")

	fmt.Println()
	fmt.Println("  Secrets (env-allowlisted):")
	for _, name := range cfg.EnvAllowlist() {
		checkSecret(name)
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkWritable(dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Printf(" (NOT WRITABLE: %s)\n", err)
		return
	}
	probe := dir + "/.doctor-write-probe"
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		fmt.Printf(" (NOT WRITABLE: %s)\n", err)
		return
	}
	os.Remove(probe)
	fmt.Println(" (OK)")
}

func checkSQLite(label, path string) {
	db, err := store.Open(path)
	if err != nil {
		fmt.Printf("    %-14s OPEN FAILED (%s)\n", label+":", err)
		return
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		fmt.Printf("    %-14s PING FAILED (%s)\n", label+":", err)
		return
	}
	fmt.Printf("    %-14s %s (OK)\n", label+":", path)
}

func checkDockerDaemon() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		fmt.Println("    daemon:      UNREACHABLE")
		return
	}
	fmt.Println("    daemon:      reachable")
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkSecret(name string) {
	v := os.Getenv(name)
	if v == "" {
		fmt.Printf("    %-28s (not set)\n", name+":")
		return
	}
	masked := v
	if len(masked) > 8 {
		masked = masked[:4] + strings.Repeat("*", len(masked)-8) + masked[len(masked)-4:]
	}
	fmt.Printf("    %-28s %s\n", name+":", masked)
}

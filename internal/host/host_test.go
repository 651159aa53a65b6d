package host

import (
	"os"
	"testing"

	"github.com/dotsetlabs/dotclaw/internal/config"
)

func TestBuildWiresAllSubsystemsWithChannelsDisabled(t *testing.T) {
	paths := &config.Paths{Home: t.TempDir()}
	cfg := config.Default()

	h, err := Build(paths, cfg, config.Secrets{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer h.Close()

	if h.Pipeline == nil {
		t.Fatal("expected a wired pipeline")
	}
	if h.Scheduler == nil {
		t.Fatal("expected a wired scheduler")
	}
	if h.Jobs == nil {
		t.Fatal("expected a wired job runner")
	}
	if h.Maintenance == nil {
		t.Fatal("expected a wired maintenance cleaner")
	}
	if h.Router == nil {
		t.Fatal("expected a wired bus router")
	}
	if len(h.Channels) != 0 {
		t.Fatalf("expected no channels with Telegram/Discord disabled, got %d", len(h.Channels))
	}
}

func TestBuildCreatesDataDirectories(t *testing.T) {
	home := t.TempDir()
	paths := &config.Paths{Home: home}
	cfg := config.Default()

	h, err := Build(paths, cfg, config.Secrets{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer h.Close()

	for _, dir := range []string{paths.StoreDir(), paths.IPCDir(), paths.SessionsDir(), paths.TracesDir(), paths.LogsDir()} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist", dir)
		}
	}
}

func TestParseAdminCommandDelegatesToParser(t *testing.T) {
	paths := &config.Paths{Home: t.TempDir()}
	cfg := config.Default()

	h, err := Build(paths, cfg, config.Secrets{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer h.Close()

	cmd, ok := h.ParseAdminCommand("/dotclaw groups", []string{"@dotclaw_bot"})
	if !ok || cmd.Name != "groups" {
		t.Fatalf("expected groups command, got %+v ok=%v", cmd, ok)
	}
}

func TestCloseIsSafeToCallTwice(t *testing.T) {
	paths := &config.Paths{Home: t.TempDir()}
	cfg := config.Default()

	h, err := Build(paths, cfg, config.Secrets{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	h.Close()
	h.Close()
}

package container

import (
	"strings"
	"testing"

	"github.com/dotsetlabs/dotclaw/internal/config"
	"github.com/dotsetlabs/dotclaw/pkg/protocol"
)

func TestExtractMarkedResponse(t *testing.T) {
	stdout := "some container log noise\n" +
		protocol.OutputStartMarker + `{"status":"success","result":"hi"}` + protocol.OutputEndMarker +
		"\ntrailing noise"
	resp, ok := extractMarkedResponse(stdout)
	if !ok {
		t.Fatal("expected markers to be found")
	}
	if resp.Status != "success" || resp.Result != "hi" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestExtractMarkedResponseMissingMarkers(t *testing.T) {
	if _, ok := extractMarkedResponse("just some stray logs, no json here"); ok {
		t.Fatal("expected no response without markers")
	}
}

func TestExtractMarkedResponseMalformedJSON(t *testing.T) {
	stdout := protocol.OutputStartMarker + `{not json` + protocol.OutputEndMarker
	if _, ok := extractMarkedResponse(stdout); ok {
		t.Fatal("expected malformed JSON between markers to be rejected")
	}
}

func TestBuildDockerRunArgsIncludesSecurityFlags(t *testing.T) {
	cfg := config.ContainerConfig{PidsLimit: 128, MemoryMB: 256, ReadOnlyRoot: true, TmpfsSizeMB: 32, UID: 1000, GID: 1000, Image: "dotclaw-agent:test"}
	req := RunRequest{GroupDir: "/data/groups/acme", SessionDir: "/data/sessions/acme", IPCDir: "/data/ipc/acme", ConfigDir: "/data/config"}
	args := buildDockerRunArgs(cfg, req)
	joined := strings.Join(args, " ")

	for _, want := range []string{"--cap-drop=ALL", "--security-opt=no-new-privileges", "--pids-limit=128", "--memory=256m", "--read-only", "--tmpfs=/tmp:size=32m", "--user=1000:1000", "dotclaw-agent:test"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected args to contain %q, got: %s", want, joined)
		}
	}
}

func TestBuildDockerRunArgsPrivilegedSkipsCapDrop(t *testing.T) {
	cfg := config.ContainerConfig{Privileged: true, Image: "x"}
	req := RunRequest{}
	args := buildDockerRunArgs(cfg, req)
	joined := strings.Join(args, " ")
	if strings.Contains(joined, "--cap-drop") {
		t.Fatalf("expected cap-drop omitted when privileged, got: %s", joined)
	}
}

package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRedactScrubsBearerAndAPIKeys(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Authorization: Bearer abc123.def-ghi", "Authorization: [redacted]"},
		{"key=sk-abcdefghijklmnopqrstuvwxyz", "key=[redacted]"},
		{"token 123456789:AAEfakeTelegramTokenValueHere123", "token [redacted]"},
		{"no secrets here", "no secrets here"},
	}
	for _, c := range cases {
		got := Redact(c.in)
		if got != c.want {
			t.Errorf("Redact(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNewLoggerRedactsAttrsWrittenToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.log")
	logger, closer, err := NewLogger(path, false)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("upstream call failed", "error", "Bearer sk-abcdefghijklmnopqrstuvwxyz")
	closer()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sk-abcdefghijklmnopqrstuvwxyz") {
		t.Fatalf("expected secret to be redacted, got: %s", data)
	}
	if !strings.Contains(string(data), "[redacted]") {
		t.Fatalf("expected redaction marker in log output, got: %s", data)
	}
}

func TestNewLoggerVerboseEnablesDebugLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.log")
	logger, closer, err := NewLogger(path, true)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("debug line visible")
	closer()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "debug line visible") {
		t.Fatalf("expected debug line to be written in verbose mode, got: %s", data)
	}
}

package container

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAllowlistValidateRejectsOutsidePaths(t *testing.T) {
	dir := t.TempDir()
	allowed := filepath.Join(dir, "allowed")
	if err := os.MkdirAll(allowed, 0o755); err != nil {
		t.Fatal(err)
	}
	listFile := filepath.Join(dir, "allowlist.txt")
	if err := os.WriteFile(listFile, []byte(allowed+"\n# comment\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	al, err := LoadAllowlist(listFile)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := al.Validate(allowed); err != nil {
		t.Fatalf("expected allowed path to validate, got %v", err)
	}
	if _, err := al.Validate(filepath.Join(allowed, "subdir")); err != nil {
		t.Fatalf("expected nested allowed path to validate, got %v", err)
	}
	if _, err := al.Validate(filepath.Join(dir, "elsewhere")); err == nil {
		t.Fatal("expected path outside allowlist to be rejected")
	}
}

func TestLoadAllowlistMissingFileIsEmpty(t *testing.T) {
	al, err := LoadAllowlist(filepath.Join(t.TempDir(), "nope.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := al.Validate("/tmp"); err == nil {
		t.Fatal("expected empty allowlist to reject everything")
	}
}

func TestValidateContainerPathRejectsTraversalAndRelative(t *testing.T) {
	if err := ValidateContainerPath("/workspace/group"); err != nil {
		t.Fatalf("expected absolute path to pass, got %v", err)
	}
	if err := ValidateContainerPath("relative/path"); err == nil {
		t.Fatal("expected relative path to be rejected")
	}
	if err := ValidateContainerPath("/workspace/../etc"); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}

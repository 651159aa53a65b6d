package store

import (
	"path/filepath"
	"testing"
)

func TestIsSafeGroupFolder(t *testing.T) {
	cases := map[string]bool{
		"acme":        true,
		"acme-corp":   true,
		"":            false,
		".":           false,
		"..":          false,
		"Acme":        false,
		"acme/corp":   false,
		"../escape":   false,
		"acme.corp":   false,
	}
	for folder, want := range cases {
		if got := IsSafeGroupFolder(folder); got != want {
			t.Errorf("IsSafeGroupFolder(%q) = %v, want %v", folder, got, want)
		}
	}
}

func TestGroupStoreRegisterAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registered_groups.json")
	gs, err := NewGroupStore(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := gs.Register("chat-1", Group{Name: "Acme", Folder: "acme"}); err != nil {
		t.Fatal(err)
	}
	g, ok := gs.Get("chat-1")
	if !ok || g.Folder != "acme" {
		t.Fatalf("expected registered group, got %+v ok=%v", g, ok)
	}

	// reloading from disk must see the persisted write
	reloaded, err := NewGroupStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reloaded.Get("chat-1"); !ok {
		t.Fatal("expected group to persist across reload")
	}
}

func TestGroupStoreRegisterRejectsInvalidFolder(t *testing.T) {
	gs, err := NewGroupStore(filepath.Join(t.TempDir(), "registered_groups.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := gs.Register("chat-1", Group{Name: "Bad", Folder: "../escape"}); err == nil {
		t.Fatal("expected invalid folder to be rejected")
	}
}

func TestGroupStoreRegisterRejectsFolderRebind(t *testing.T) {
	gs, err := NewGroupStore(filepath.Join(t.TempDir(), "registered_groups.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := gs.Register("chat-1", Group{Name: "Acme", Folder: "acme"}); err != nil {
		t.Fatal(err)
	}
	if err := gs.Register("chat-1", Group{Name: "Acme", Folder: "other"}); err == nil {
		t.Fatal("expected folder rebind to be rejected")
	}
}

func TestGroupStoreRemove(t *testing.T) {
	gs, err := NewGroupStore(filepath.Join(t.TempDir(), "registered_groups.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := gs.Register("chat-1", Group{Name: "Acme", Folder: "acme"}); err != nil {
		t.Fatal(err)
	}
	if err := gs.Remove("chat-1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := gs.Get("chat-1"); ok {
		t.Fatal("expected group to be removed")
	}
}

package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmbeddedDefaults(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("error.room_full", map[string]any{"ContestID": 42})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Contest 42 is full." {
		t.Fatalf("unexpected render: %q", got)
	}
	if err := c.Require("error.not_found", "error.internal"); err != nil {
		t.Fatalf("Require: %v", err)
	}
	if err := c.Require("error.nope"); err == nil {
		t.Fatal("expected missing key error")
	}
}

func TestMissingFieldIsAnError(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Render("error.room_full", map[string]any{}); err == nil {
		t.Fatal("expected error for missing field")
	}
	if got := c.RenderOr("error.room_full", map[string]any{}, "fallback"); got != "fallback" {
		t.Fatalf("RenderOr = %q", got)
	}
	if _, err := c.Render("unknown.key", nil); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("error:\n  room_full: \"Room {{.ContestID}} has no seats\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := c.RenderOr("error.room_full", map[string]any{"ContestID": 7}, "")
	if got != "Room 7 has no seats" {
		t.Fatalf("override not applied: %q", got)
	}
	if !c.Has("error.not_found") {
		t.Fatal("defaults lost after override")
	}
}

func TestDuplicateOverrideKeysRejected(t *testing.T) {
	dir := t.TempDir()
	body := []byte("error:\n  internal: \"x\"\n")
	for _, name := range []string{"a.yaml", "b.yml"} {
		if err := os.WriteFile(filepath.Join(dir, name), body, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := New(dir); err == nil {
		t.Fatal("expected duplicate key error")
	}
}

func TestNonStringLeafRejected(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("error:\n  internal: 12\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir); err == nil {
		t.Fatal("expected error for non-string leaf")
	}
}

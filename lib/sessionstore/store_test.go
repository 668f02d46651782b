// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package sessionstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissing(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "never-created"), nil)
	if id, ok := store.Load("/home/user/project"); ok || id != "" {
		t.Fatalf("Load of missing record = (%q, %v), want empty", id, ok)
	}
}

func TestSaveThenLoad(t *testing.T) {
	store := New(t.TempDir(), nil)
	workDir := "/home/user/projects/widget-factory"

	if err := store.Save(workDir, "sess-abc123"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	id, ok := store.Load(workDir)
	if !ok || id != "sess-abc123" {
		t.Fatalf("Load = (%q, %v), want (sess-abc123, true)", id, ok)
	}
}

func TestSaveReplaces(t *testing.T) {
	store := New(t.TempDir(), nil)
	workDir := "/srv/agent"

	if err := store.Save(workDir, "first"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(workDir, "second"); err != nil {
		t.Fatalf("Save replace: %v", err)
	}
	if id, _ := store.Load(workDir); id != "second" {
		t.Fatalf("Load after replace = %q, want second", id)
	}

	// Replacement leaves no temp file debris behind.
	entries, err := os.ReadDir(store.root)
	if err != nil {
		t.Fatalf("reading store root: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".session-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestPathIsSlugged(t *testing.T) {
	store := New("/store", nil)
	path := store.Path("/home/User/My Project")
	want := filepath.Join("/store", "copilot_session_home-user-my-project.json")
	if path != want {
		t.Fatalf("Path = %q, want %q", path, want)
	}
}

func TestDistinctDirsDistinctRecords(t *testing.T) {
	store := New(t.TempDir(), nil)

	if err := store.Save("/work/alpha", "sess-a"); err != nil {
		t.Fatalf("Save alpha: %v", err)
	}
	if err := store.Save("/work/beta", "sess-b"); err != nil {
		t.Fatalf("Save beta: %v", err)
	}

	if id, _ := store.Load("/work/alpha"); id != "sess-a" {
		t.Errorf("alpha = %q", id)
	}
	if id, _ := store.Load("/work/beta"); id != "sess-b" {
		t.Errorf("beta = %q", id)
	}
}

func TestCorruptRecordTreatedAsAbsent(t *testing.T) {
	store := New(t.TempDir(), nil)
	workDir := "/work/broken"

	if err := store.Save(workDir, "sess-x"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.WriteFile(store.Path(workDir), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("corrupting record: %v", err)
	}

	if id, ok := store.Load(workDir); ok || id != "" {
		t.Fatalf("Load of corrupt record = (%q, %v), want absent", id, ok)
	}
}

func TestDelete(t *testing.T) {
	store := New(t.TempDir(), nil)
	workDir := "/work/gone"

	if err := store.Save(workDir, "sess-y"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(workDir); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := store.Load(workDir); ok {
		t.Fatal("record still present after Delete")
	}
	if err := store.Delete(workDir); err != nil {
		t.Fatalf("Delete of missing record: %v", err)
	}
}

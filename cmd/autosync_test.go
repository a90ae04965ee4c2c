package cmd

import (
	"testing"
)

func TestIsMutatingCommand(t *testing.T) {
	for _, name := range []string{"start", "stop", "add", "edit", "delete", "archive", "archive-all", "undo", "redo"} {
		if !isMutatingCommand(name) {
			t.Errorf("%s should trigger auto-sync", name)
		}
	}
	for _, name := range []string{"list", "show", "stats", "history", "sync", "queue", "export", "backend", "version", "watch"} {
		if isMutatingCommand(name) {
			t.Errorf("%s should not trigger auto-sync", name)
		}
	}
}

func TestMutatingCommandsAreRegistered(t *testing.T) {
	registered := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}
	for name := range mutatingCommands {
		if !registered[name] {
			t.Errorf("mutating command %q is not registered", name)
		}
	}
}

func TestAutoSyncEnabled(t *testing.T) {
	t.Setenv("CT_CONFIG_DIR", t.TempDir())

	t.Setenv("CT_SYNC_AUTO", "")
	if !AutoSyncEnabled() {
		t.Error("auto-sync should default to on")
	}

	t.Setenv("CT_SYNC_AUTO", "0")
	if AutoSyncEnabled() {
		t.Error("CT_SYNC_AUTO=0 should disable auto-sync")
	}
}

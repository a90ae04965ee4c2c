package cmd

import (
	"context"
	"log/slog"

	"github.com/marcus/ct/internal/remote"
	"github.com/marcus/ct/internal/syncconfig"
)

// mutatingCommands lists commands that modify local data and should trigger auto-sync.
var mutatingCommands = map[string]bool{
	"start":       true,
	"stop":        true,
	"add":         true,
	"edit":        true,
	"delete":      true,
	"archive":     true,
	"archive-all": true,
	"undo":        true,
	"redo":        true,
}

// isMutatingCommand checks if the given command name triggers auto-sync.
func isMutatingCommand(name string) bool {
	return mutatingCommands[name]
}

// AutoSyncEnabled returns true if auto-sync is enabled.
// Checks CT_SYNC_AUTO, then config. Defaults to true.
func AutoSyncEnabled() bool {
	return syncconfig.GetAutoSyncEnabled()
}

// autoSyncAfterMutation drains the outbound queue after a mutating command
// completes. Runs synchronously under the sync timeout. Errors are logged,
// not returned: the change is already safe in the local log.
func autoSyncAfterMutation(ctx context.Context, a *app) {
	if !AutoSyncEnabled() {
		return
	}
	if a.adapter.Kind() == remote.KindPassive {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, syncconfig.GetSyncTimeout())
	defer cancel()

	st, err := a.orch.SyncNow(ctx)
	if err != nil {
		slog.Debug("autosync: failed", "err", err)
		return
	}
	if st.PendingOperations > 0 || st.FailedOperations > 0 {
		slog.Info("autosync: operations still queued", "pending", st.PendingOperations, "failed", st.FailedOperations)
	}
}

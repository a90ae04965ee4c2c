package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/marcus/ct/internal/apperr"
	"github.com/marcus/ct/internal/db"
	"github.com/marcus/ct/internal/history"
	"github.com/marcus/ct/internal/models"
	"github.com/marcus/ct/internal/output"
	"github.com/marcus/ct/internal/queue"
	"github.com/marcus/ct/internal/remote"
	"github.com/marcus/ct/internal/syncconfig"
	"github.com/marcus/ct/internal/syncer"
	"github.com/marcus/ct/internal/tracker"
	"github.com/spf13/cobra"
)

// app is everything one invocation needs, built once and torn down in
// reverse order by Close.
type app struct {
	db       *db.DB
	queue    *queue.Queue
	adapter  remote.Adapter
	dispatch *syncer.Dispatcher
	history  *history.Manager
	svc      *tracker.Service
	orch     *syncer.Orchestrator
}

// openApp opens the local store and constructs the configured backend. An
// incompletely configured backend is reported and replaced by the passive
// one so local work is never blocked.
func openApp(ctx context.Context) (*app, error) {
	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}
	database, err := db.Open(baseDir)
	if err != nil {
		return nil, err
	}

	adapter, err := remote.New(syncconfig.RemoteConfig())
	if err != nil {
		if !errors.Is(err, apperr.ErrBackendUnconfigured) {
			database.Close()
			return nil, err
		}
		slog.Warn("backend not usable, working locally", "err", err)
		adapter = remote.Passive{}
	}

	q := queue.New(database)
	d := syncer.NewDispatcher(adapter, q, database)
	h, err := history.New(ctx, database, d, syncconfig.GetHistorySize())
	if err != nil {
		adapter.Close()
		database.Close()
		return nil, fmt.Errorf("load history: %w", err)
	}

	return &app{
		db:       database,
		queue:    q,
		adapter:  adapter,
		dispatch: d,
		history:  h,
		svc:      tracker.New(database, h, d),
		orch:     syncer.NewOrchestrator(database, d, q, syncconfig.GetSyncInterval()),
	}, nil
}

// Close stops background sync and releases the backend and the store.
func (a *app) Close() {
	a.orch.Stop()
	if err := a.adapter.Close(); err != nil {
		slog.Debug("close adapter", "err", err)
	}
	if err := a.db.Close(); err != nil {
		slog.Debug("close db", "err", err)
	}
}

// withApp opens the app, runs fn and, for mutating commands, pushes the
// change to the backend before closing. Errors from fn are printed here.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			output.JSONError(errorCode(err), err.Error())
		} else {
			output.Error("%v", err)
		}
		return err
	}
	if isMutatingCommand(cmd.Name()) {
		autoSyncAfterMutation(ctx, a)
	}
	return nil
}

// errorCode maps an error to the code reported by --json output.
func errorCode(err error) string {
	switch {
	case apperr.IsNotFound(err):
		return output.ErrCodeNotFound
	case apperr.IsValidation(err):
		return output.ErrCodeInvalidInput
	case errors.Is(err, apperr.ErrBusy):
		return output.ErrCodeBusy
	case errors.Is(err, apperr.ErrAlreadyActive), errors.Is(err, apperr.ErrNoActive):
		return output.ErrCodeConflict
	case apperr.IsUnreachable(err), apperr.IsRejected(err), errors.Is(err, apperr.ErrBackendUnconfigured):
		return output.ErrCodeBackendError
	default:
		return output.ErrCodeDatabaseError
	}
}

// resolveID accepts a full event id or a unique prefix of one, as printed
// by `ct list`.
func (a *app) resolveID(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", apperr.Validation("event id is required")
	}
	if _, err := a.db.Get(ctx, ref); err == nil {
		return ref, nil
	} else if !apperr.IsNotFound(err) {
		return "", err
	}

	all, err := a.db.ListAll(ctx)
	if err != nil {
		return "", err
	}
	var matches []models.Event
	for _, e := range all {
		if strings.HasPrefix(e.ID, ref) {
			matches = append(matches, e)
		}
	}
	switch len(matches) {
	case 0:
		return "", apperr.NotFound(ref)
	case 1:
		return matches[0].ID, nil
	}
	return "", apperr.Validation(fmt.Sprintf("id prefix %q matches %d events", ref, len(matches)))
}

// Package remote adapts the event log to the supported backends: none
// (local only), a spreadsheet proxy polled over HTTP, and a realtime
// document store over a WebSocket. The variant is chosen once from
// configuration.
package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/marcus/ct/internal/apperr"
	"github.com/marcus/ct/internal/models"
)

// Kind identifies a backend variant
type Kind string

const (
	KindPassive  Kind = "none"
	KindPolling  Kind = "sheets"
	KindRealtime Kind = "realtime"
)

// ParseKind accepts the configured backend name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindPassive, "local":
		return KindPassive, nil
	case KindPolling, "polling":
		return KindPolling, nil
	case KindRealtime, "firestore":
		return KindRealtime, nil
	}
	return "", fmt.Errorf("unknown backend %q (want none, sheets or realtime)", s)
}

// DefaultTimeout bounds every remote request.
const DefaultTimeout = 15 * time.Second

// Adapter is the uniform contract every backend implements.
type Adapter interface {
	Kind() Kind
	// PushCreate is an idempotent upsert keyed by event id.
	PushCreate(ctx context.Context, e models.Event) error
	PushUpdate(ctx context.Context, id string, patch models.EventPatch) error
	// PushArchive and PushBatchArchive stamp the remote copy with at, the
	// local archive time; zero means now.
	PushArchive(ctx context.Context, id string, at models.Millis) error
	PushBatchArchive(ctx context.Context, ids []string, at models.Millis) error
	PushDelete(ctx context.Context, id string) error
	PullAll(ctx context.Context, includeArchived bool) ([]models.Event, error)
	TestConnection(ctx context.Context) error
	Close() error
}

// Subscriber is implemented by backends that push full snapshots on change.
// The returned unsubscribe func is idempotent.
type Subscriber interface {
	Subscribe(ctx context.Context, onSnapshot func([]models.Event), onError func(error)) (unsubscribe func(), err error)
}

// Initializer is implemented by backends that need one-time setup.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// BatchUpserter uploads many events in one round trip.
type BatchUpserter interface {
	PushBatchUpsert(ctx context.Context, events []models.Event) error
}

// SheetsConfig configures the spreadsheet proxy
type SheetsConfig struct {
	URL       string
	SheetName string
}

// RealtimeConfig configures the document store connection
type RealtimeConfig struct {
	URL    string
	UserID string
	Token  string
}

// Config selects and configures an adapter.
type Config struct {
	Kind     Kind
	Sheets   SheetsConfig
	Realtime RealtimeConfig
	Timeout  time.Duration

	// HTTPClient overrides the polling transport; Timeout still applies.
	HTTPClient *http.Client
}

// New constructs the adapter for cfg.Kind. A variant missing its required
// settings yields ErrBackendUnconfigured.
func New(cfg Config) (Adapter, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	switch cfg.Kind {
	case KindPassive, "":
		return Passive{}, nil
	case KindPolling:
		if cfg.Sheets.URL == "" {
			return nil, fmt.Errorf("sheets: %w: missing script url", apperr.ErrBackendUnconfigured)
		}
		return NewSheets(cfg.Sheets, timeout, cfg.HTTPClient), nil
	case KindRealtime:
		if cfg.Realtime.URL == "" || cfg.Realtime.UserID == "" {
			return nil, fmt.Errorf("realtime: %w: url and user id are required", apperr.ErrBackendUnconfigured)
		}
		return NewRealtime(cfg.Realtime, timeout), nil
	}
	return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
}

// Passive is the local-only backend. Pushes are accepted and dropped; data
// is not durable beyond this device.
type Passive struct{}

func (Passive) Kind() Kind                                                      { return KindPassive }
func (Passive) PushCreate(context.Context, models.Event) error                  { return nil }
func (Passive) PushUpdate(context.Context, string, models.EventPatch) error     { return nil }
func (Passive) PushArchive(context.Context, string, models.Millis) error        { return nil }
func (Passive) PushBatchArchive(context.Context, []string, models.Millis) error { return nil }
func (Passive) PushDelete(context.Context, string) error                        { return nil }
func (Passive) Close() error                                                    { return nil }

// PullAll has nothing to return.
func (Passive) PullAll(context.Context, bool) ([]models.Event, error) {
	return nil, nil
}

// TestConnection always reports that no backend is configured.
func (Passive) TestConnection(context.Context) error {
	return apperr.ErrBackendUnconfigured
}

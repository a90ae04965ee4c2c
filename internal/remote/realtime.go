package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/marcus/ct/internal/apperr"
	"github.com/marcus/ct/internal/models"
)

// Frame types of the realtime document protocol.
const (
	FrameUpsert       = "upsert"
	FrameUpdate       = "update"
	FrameBatchArchive = "batchArchive"
	FrameQuery        = "query"
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"
	FramePing         = "ping"

	FrameAck      = "ack"
	FrameResult   = "result"
	FrameSnapshot = "snapshot"
	FrameError    = "error"
)

// CodeNotFound is the error code for a missing document.
const CodeNotFound = "not_found"

// Frame is one message on the realtime connection. Requests carry a reqId
// that the matching ack, result or error echoes; snapshots carry the subId of
// the subscription they belong to.
type Frame struct {
	Type            string             `json:"type"`
	ReqID           string             `json:"reqId,omitempty"`
	SubID           string             `json:"subId,omitempty"`
	UserID          string             `json:"userId,omitempty"`
	ID              string             `json:"id,omitempty"`
	Doc             *models.Event      `json:"doc,omitempty"`
	Fields          *models.EventPatch `json:"fields,omitempty"`
	IDs             []string           `json:"ids,omitempty"`
	UpdatedAt       models.Millis      `json:"updatedAt,omitempty"`
	IncludeArchived bool               `json:"includeArchived,omitempty"`
	Docs            []models.Event     `json:"docs,omitempty"`
	Error           string             `json:"error,omitempty"`
	Code            string             `json:"code,omitempty"`
}

const (
	redialMinDelay = time.Second
	redialMaxDelay = 30 * time.Second
)

// CollectionPath is the per-user collection holding a user's events.
func CollectionPath(userID string) string {
	return "users/" + userID + "/contractions"
}

// Realtime talks to a live document store over a WebSocket. The connection
// is dialed on first use. After a drop the next call redials, and while
// subscriptions are live a background redial with capped backoff brings them
// back without waiting for a call. Subscriptions are re-registered on every
// new connection.
type Realtime struct {
	cfg     RealtimeConfig
	timeout time.Duration
	dialer  *websocket.Dialer
	now     func() time.Time

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan reply
	subs    map[string]*subscription
	closed  bool
	redial  bool
	done    chan struct{}

	writeMu sync.Mutex
}

type reply struct {
	frame Frame
	err   error
}

type subscription struct {
	id         string
	onSnapshot func([]models.Event)
	onError    func(error)
}

// NewRealtime builds the realtime adapter. Nothing is dialed until the first call.
func NewRealtime(cfg RealtimeConfig, timeout time.Duration) *Realtime {
	return &Realtime{
		cfg:     cfg,
		timeout: timeout,
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		now:     time.Now,
		pending: make(map[string]chan reply),
		subs:    make(map[string]*subscription),
		done:    make(chan struct{}),
	}
}

func (r *Realtime) Kind() Kind { return KindRealtime }

func unreachable(err error) error {
	return &apperr.UnreachableError{Backend: string(KindRealtime), Err: err}
}

var errClosed = errors.New("connection closed")

// connect returns the live connection, dialing if needed.
func (r *Realtime) connect(ctx context.Context) (*websocket.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, unreachable(errClosed)
	}
	if r.conn != nil {
		return r.conn, nil
	}

	header := http.Header{}
	if r.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+r.cfg.Token)
	}
	conn, _, err := r.dialer.DialContext(ctx, r.cfg.URL, header)
	if err != nil {
		return nil, unreachable(fmt.Errorf("dial: %w", err))
	}
	r.conn = conn
	go r.readLoop(conn)

	for _, sub := range r.subs {
		// acks for re-registrations have no waiter and are dropped
		if err := r.write(conn, Frame{Type: FrameSubscribe, ReqID: uuid.NewString(), SubID: sub.id, UserID: r.cfg.UserID}); err != nil {
			slog.Warn("realtime: resubscribe failed", "sub", sub.id, "err", err)
		}
	}
	slog.Debug("realtime: connected", "url", r.cfg.URL, "subs", len(r.subs))
	return conn, nil
}

func (r *Realtime) write(conn *websocket.Conn, f Frame) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = conn.SetWriteDeadline(r.now().Add(r.timeout))
	return conn.WriteJSON(f)
}

// readLoop routes replies to waiting requests and snapshots to their
// subscription. Snapshot callbacks run on this goroutine and must not call
// back into the adapter.
func (r *Realtime) readLoop(conn *websocket.Conn) {
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			r.drop(conn, err)
			return
		}

		if f.Type == FrameSnapshot {
			r.mu.Lock()
			sub := r.subs[f.SubID]
			r.mu.Unlock()
			if sub != nil {
				docs := make([]models.Event, len(f.Docs))
				for i, d := range f.Docs {
					d.SyncStatus = models.SyncSynced
					docs[i] = d
				}
				sub.onSnapshot(docs)
			}
			continue
		}

		r.mu.Lock()
		ch := r.pending[f.ReqID]
		delete(r.pending, f.ReqID)
		r.mu.Unlock()
		if ch != nil {
			ch <- reply{frame: f}
		}
	}
}

// drop forgets a dead connection, fails in-flight requests and notifies
// subscribers. While subscriptions remain, redialLoop brings them back.
func (r *Realtime) drop(conn *websocket.Conn, cause error) {
	r.mu.Lock()
	if r.conn != conn {
		r.mu.Unlock()
		return
	}
	r.conn = nil
	pending := r.pending
	r.pending = make(map[string]chan reply)
	var subs []*subscription
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	closed := r.closed
	startRedial := !closed && len(subs) > 0 && !r.redial
	if startRedial {
		r.redial = true
	}
	r.mu.Unlock()

	_ = conn.Close()
	for _, ch := range pending {
		ch <- reply{err: cause}
	}
	if closed {
		return
	}
	slog.Warn("realtime: connection lost", "err", cause)
	for _, s := range subs {
		if s.onError != nil {
			s.onError(unreachable(cause))
		}
	}
	if startRedial {
		go r.redialLoop()
	}
}

// redialLoop retries the connection with capped backoff until it is back,
// the last subscription goes away or the adapter is closed.
func (r *Realtime) redialLoop() {
	defer func() {
		r.mu.Lock()
		r.redial = false
		r.mu.Unlock()
	}()
	delay := redialMinDelay
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-timer.C:
		}
		r.mu.Lock()
		idle := r.closed || len(r.subs) == 0 || r.conn != nil
		r.mu.Unlock()
		if idle {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		_, err := r.connect(ctx)
		cancel()
		if err == nil {
			return
		}
		delay = min(delay*2, redialMaxDelay)
		slog.Debug("realtime: redial failed", "err", err, "retry_in", delay)
		timer.Reset(delay)
	}
}

// request sends f and waits for its reply within the adapter timeout.
func (r *Realtime) request(ctx context.Context, f Frame) (Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	conn, err := r.connect(ctx)
	if err != nil {
		return Frame{}, err
	}

	f.ReqID = uuid.NewString()
	f.UserID = r.cfg.UserID
	ch := make(chan reply, 1)
	r.mu.Lock()
	r.pending[f.ReqID] = ch
	r.mu.Unlock()

	if err := r.write(conn, f); err != nil {
		r.mu.Lock()
		delete(r.pending, f.ReqID)
		r.mu.Unlock()
		r.drop(conn, err)
		return Frame{}, unreachable(fmt.Errorf("send %s: %w", f.Type, err))
	}

	select {
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, f.ReqID)
		r.mu.Unlock()
		return Frame{}, unreachable(fmt.Errorf("%s: %w", f.Type, ctx.Err()))
	case rep := <-ch:
		if rep.err != nil {
			return Frame{}, unreachable(rep.err)
		}
		if rep.frame.Type == FrameError {
			if rep.frame.Code == CodeNotFound {
				return Frame{}, apperr.NotFound(f.ID)
			}
			return Frame{}, &apperr.RejectedError{Backend: string(KindRealtime), Message: rep.frame.Error}
		}
		return rep.frame, nil
	}
}

// TestConnection round-trips a ping.
func (r *Realtime) TestConnection(ctx context.Context) error {
	_, err := r.request(ctx, Frame{Type: FramePing})
	return err
}

// PushCreate writes the whole document, replacing any existing copy.
func (r *Realtime) PushCreate(ctx context.Context, e models.Event) error {
	doc := e.Clone()
	doc.SyncStatus = ""
	_, err := r.request(ctx, Frame{Type: FrameUpsert, ID: e.ID, Doc: &doc})
	return err
}

// PushUpdate merges patch into an existing document. A missing document
// yields NotFound.
func (r *Realtime) PushUpdate(ctx context.Context, id string, patch models.EventPatch) error {
	if patch.UpdatedAt == 0 {
		patch.UpdatedAt = models.FromTime(r.now())
	}
	_, err := r.request(ctx, Frame{Type: FrameUpdate, ID: id, Fields: &patch})
	return err
}

// PushArchive soft-deletes the document, stamping it with at. Archiving a
// missing document is a no-op.
func (r *Realtime) PushArchive(ctx context.Context, id string, at models.Millis) error {
	archived := true
	err := r.PushUpdate(ctx, id, models.EventPatch{Archived: &archived, UpdatedAt: at})
	if apperr.IsNotFound(err) {
		return nil
	}
	return err
}

// PushBatchArchive archives every id in one atomic server-side batch.
func (r *Realtime) PushBatchArchive(ctx context.Context, ids []string, at models.Millis) error {
	if len(ids) == 0 {
		return nil
	}
	if at == 0 {
		at = models.FromTime(r.now())
	}
	_, err := r.request(ctx, Frame{Type: FrameBatchArchive, IDs: ids, UpdatedAt: at})
	return err
}

// PushDelete is a soft delete on the document store.
func (r *Realtime) PushDelete(ctx context.Context, id string) error {
	return r.PushArchive(ctx, id, 0)
}

// PushBatchUpsert writes each document in turn.
func (r *Realtime) PushBatchUpsert(ctx context.Context, events []models.Event) error {
	for _, e := range events {
		if err := r.PushCreate(ctx, e); err != nil {
			return fmt.Errorf("upsert %s: %w", e.ID, err)
		}
	}
	return nil
}

// PullAll queries the user's collection.
func (r *Realtime) PullAll(ctx context.Context, includeArchived bool) ([]models.Event, error) {
	res, err := r.request(ctx, Frame{Type: FrameQuery, IncludeArchived: includeArchived})
	if err != nil {
		return nil, err
	}
	out := make([]models.Event, len(res.Docs))
	for i, d := range res.Docs {
		d.SyncStatus = models.SyncSynced
		out[i] = d
	}
	models.SortByStartDesc(out)
	return out, nil
}

// Subscribe registers for full snapshots of the non-archived collection. The
// server sends one snapshot right away and another after every change.
func (r *Realtime) Subscribe(ctx context.Context, onSnapshot func([]models.Event), onError func(error)) (func(), error) {
	sub := &subscription{id: uuid.NewString(), onSnapshot: onSnapshot, onError: onError}
	r.mu.Lock()
	r.subs[sub.id] = sub
	r.mu.Unlock()

	if _, err := r.request(ctx, Frame{Type: FrameSubscribe, SubID: sub.id}); err != nil {
		r.mu.Lock()
		delete(r.subs, sub.id)
		r.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, sub.id)
			conn := r.conn
			r.mu.Unlock()
			if conn == nil {
				return
			}
			if err := r.write(conn, Frame{Type: FrameUnsubscribe, ReqID: uuid.NewString(), SubID: sub.id, UserID: r.cfg.UserID}); err != nil {
				slog.Debug("realtime: unsubscribe", "sub", sub.id, "err", err)
			}
		})
	}, nil
}

// Close drops the connection and every subscription. Later calls fail.
func (r *Realtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	conn := r.conn
	r.subs = make(map[string]*subscription)
	r.mu.Unlock()

	if conn == nil {
		return nil
	}
	r.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), r.now().Add(time.Second))
	r.writeMu.Unlock()
	r.drop(conn, errClosed)
	return nil
}

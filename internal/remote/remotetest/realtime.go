package remotetest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/marcus/ct/internal/models"
	"github.com/marcus/ct/internal/remote"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// RealtimeServer is an in-memory document store speaking the realtime frame
// protocol. Documents are kept per user; every change pushes a snapshot of
// the user's non-archived documents to that user's subscribers.
type RealtimeServer struct {
	*httptest.Server

	mu       sync.Mutex
	docs     map[string]map[string]models.Event
	conns    map[*peer]bool
	rejects  int
	requests []string
}

type peer struct {
	conn *websocket.Conn
	wmu  sync.Mutex
	subs map[string]string // subId -> userId
}

func (p *peer) send(f remote.Frame) {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	_ = p.conn.WriteJSON(f)
}

// NewRealtimeServer starts a fake document server closed on test cleanup.
func NewRealtimeServer(t testing.TB) *RealtimeServer {
	t.Helper()
	s := &RealtimeServer{
		docs:  make(map[string]map[string]models.Event),
		conns: make(map[*peer]bool),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		s.DropConnections()
		s.Close()
	})
	return s
}

// WSURL is the ws:// address of the server.
func (s *RealtimeServer) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// Seed stores documents for userID without notifying subscribers.
func (s *RealtimeServer) Seed(userID string, events ...models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.put(userID, e)
	}
}

// Docs returns userID's documents, archived included.
func (s *RealtimeServer) Docs(userID string) []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(userID, true)
}

// Doc returns one document.
func (s *RealtimeServer) Doc(userID, id string) (models.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.docs[userID][id]
	return e.Clone(), ok
}

// RejectNext answers the next n requests with an error frame.
func (s *RealtimeServer) RejectNext(n int) {
	s.mu.Lock()
	s.rejects += n
	s.mu.Unlock()
}

// Requests returns the type of every request received, in order.
func (s *RealtimeServer) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Subscribers counts live subscriptions across connections.
func (s *RealtimeServer) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for p := range s.conns {
		n += len(p.subs)
	}
	return n
}

// DropConnections closes every client connection from the server side.
func (s *RealtimeServer) DropConnections() {
	s.mu.Lock()
	conns := make([]*peer, 0, len(s.conns))
	for p := range s.conns {
		conns = append(conns, p)
	}
	s.mu.Unlock()
	for _, p := range conns {
		_ = p.conn.Close()
	}
}

func (s *RealtimeServer) put(userID string, e models.Event) {
	if s.docs[userID] == nil {
		s.docs[userID] = make(map[string]models.Event)
	}
	e = e.Clone()
	e.SyncStatus = ""
	s.docs[userID][e.ID] = e
}

func (s *RealtimeServer) collect(userID string, includeArchived bool) []models.Event {
	out := []models.Event{}
	for _, e := range s.docs[userID] {
		if e.Archived && !includeArchived {
			continue
		}
		out = append(out, e.Clone())
	}
	models.SortByStartDesc(out)
	return out
}

func (s *RealtimeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{conn: conn, subs: make(map[string]string)}
	s.mu.Lock()
	s.conns[p] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, p)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		var f remote.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		s.serve(p, f)
	}
}

func (s *RealtimeServer) serve(p *peer, f remote.Frame) {
	s.mu.Lock()
	s.requests = append(s.requests, f.Type)
	if s.rejects > 0 && f.Type != remote.FrameUnsubscribe {
		s.rejects--
		s.mu.Unlock()
		p.send(remote.Frame{Type: remote.FrameError, ReqID: f.ReqID, Error: "permission denied"})
		return
	}

	var (
		resp    = remote.Frame{Type: remote.FrameAck, ReqID: f.ReqID}
		changed bool
		initial bool
	)
	switch f.Type {
	case remote.FramePing:

	case remote.FrameUpsert:
		if f.Doc == nil {
			resp = remote.Frame{Type: remote.FrameError, ReqID: f.ReqID, Error: "missing document"}
			break
		}
		s.put(f.UserID, *f.Doc)
		changed = true

	case remote.FrameUpdate:
		doc, ok := s.docs[f.UserID][f.ID]
		if !ok || f.Fields == nil {
			resp = remote.Frame{Type: remote.FrameError, ReqID: f.ReqID, Code: remote.CodeNotFound, Error: "no document to update: " + remote.CollectionPath(f.UserID) + "/" + f.ID}
			break
		}
		f.Fields.Apply(&doc)
		if f.Fields.UpdatedAt != 0 {
			doc.UpdatedAt = f.Fields.UpdatedAt
		}
		s.put(f.UserID, doc)
		changed = true

	case remote.FrameBatchArchive:
		// missing ids are skipped; present ones change together
		stamp := f.UpdatedAt
		if stamp == 0 {
			stamp = models.Now()
		}
		for _, id := range f.IDs {
			doc, ok := s.docs[f.UserID][id]
			if !ok {
				continue
			}
			doc.Archived = true
			doc.UpdatedAt = stamp
			s.put(f.UserID, doc)
			changed = true
		}

	case remote.FrameQuery:
		resp = remote.Frame{Type: remote.FrameResult, ReqID: f.ReqID, Docs: s.collect(f.UserID, f.IncludeArchived)}

	case remote.FrameSubscribe:
		p.subs[f.SubID] = f.UserID
		initial = true

	case remote.FrameUnsubscribe:
		delete(p.subs, f.SubID)

	default:
		resp = remote.Frame{Type: remote.FrameError, ReqID: f.ReqID, Error: "unknown frame type " + f.Type}
	}

	type push struct {
		to    *peer
		frame remote.Frame
	}
	var pushes []push
	if initial {
		pushes = append(pushes, push{p, remote.Frame{Type: remote.FrameSnapshot, SubID: f.SubID, Docs: s.collect(f.UserID, false)}})
	}
	if changed {
		for q := range s.conns {
			for subID, uid := range q.subs {
				if uid == f.UserID {
					pushes = append(pushes, push{q, remote.Frame{Type: remote.FrameSnapshot, SubID: subID, Docs: s.collect(uid, false)}})
				}
			}
		}
	}
	s.mu.Unlock()

	p.send(resp)
	for _, m := range pushes {
		m.to.send(m.frame)
	}
}

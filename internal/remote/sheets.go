package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/marcus/ct/internal/apperr"
	"github.com/marcus/ct/internal/models"
)

// Sheet names and the deleted-row sentinel used by the spreadsheet proxy.
const (
	DefaultSheetName  = "Contractions"
	ArchivedSheetName = "Archived Contractions"
	DeletedMarker     = "DELETED"
)

// SheetHeaders is the header row written by initialize, in column order.
var SheetHeaders = []string{"id", "startTime", "endTime", "duration", "intensity", "notes", "createdAt", "updatedAt", "deleted"}

// rowCacheTTL bounds how long row positions are trusted before a fresh getAll.
const rowCacheTTL = 30 * time.Second

// Sheets talks to a spreadsheet through a web-app proxy. Rows are addressed
// by position, so the adapter keeps a short-lived id to row cache and drops
// it whenever rows move.
type Sheets struct {
	url   string
	sheet string
	http  *http.Client
	now   func() time.Time

	mu        sync.Mutex
	rows      map[string]rowRef
	fetchedAt time.Time
}

type rowRef struct {
	index int
	event models.Event
}

// NewSheets builds the polling adapter. client may be nil.
func NewSheets(cfg SheetsConfig, timeout time.Duration, client *http.Client) *Sheets {
	if client == nil {
		client = &http.Client{}
	}
	c := *client
	c.Timeout = timeout
	name := cfg.SheetName
	if name == "" {
		name = DefaultSheetName
	}
	return &Sheets{url: cfg.URL, sheet: name, http: &c, now: time.Now}
}

func (s *Sheets) Kind() Kind { return KindPolling }

// Close releases nothing; the HTTP client is shared.
func (s *Sheets) Close() error { return nil }

// --- wire types ---

type sheetsResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// cell decodes a spreadsheet value that may arrive as a string, a number or null.
type cell string

func (c *cell) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*c = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = cell(s)
	default:
		*c = cell(b)
	}
	return nil
}

// num parses numeric cells, tolerating float formatting and ISO dates.
func (c cell) num() (int64, bool) {
	s := strings.TrimSpace(string(c))
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UnixMilli(), true
	}
	return 0, false
}

type sheetRecord struct {
	ID         cell `json:"id"`
	StartTime  cell `json:"startTime"`
	EndTime    cell `json:"endTime"`
	Duration   cell `json:"duration"`
	Intensity  cell `json:"intensity"`
	Notes      cell `json:"notes"`
	CreatedAt  cell `json:"createdAt"`
	UpdatedAt  cell `json:"updatedAt"`
	Deleted    cell `json:"deleted"`
	SheetRowID int  `json:"sheetRowId"`
}

type rowUpdate struct {
	RowIndex int      `json:"rowIndex"`
	Row      []string `json:"row"`
}

// EncodeRow renders an event as the nine positional sheet columns.
func EncodeRow(e models.Event) []string {
	row := make([]string, len(SheetHeaders))
	row[0] = e.ID
	row[1] = strconv.FormatInt(int64(e.StartTime), 10)
	if e.EndTime != nil {
		row[2] = strconv.FormatInt(int64(*e.EndTime), 10)
	}
	if e.Duration != nil {
		row[3] = strconv.FormatInt(*e.Duration, 10)
	}
	if e.Intensity != nil {
		row[4] = strconv.Itoa(*e.Intensity)
	}
	row[5] = e.Notes
	row[6] = strconv.FormatInt(int64(e.CreatedAt), 10)
	row[7] = strconv.FormatInt(int64(e.UpdatedAt), 10)
	return row
}

// decode turns a record into an event. Records without an id or start time
// are skipped; missing timestamps fall back to the start time.
func (r sheetRecord) decode(archived bool) (models.Event, bool) {
	start, ok := r.StartTime.num()
	if r.ID == "" || !ok {
		return models.Event{}, false
	}
	e := models.Event{
		ID:         string(r.ID),
		StartTime:  models.Millis(start),
		Notes:      string(r.Notes),
		CreatedAt:  models.Millis(start),
		UpdatedAt:  models.Millis(start),
		Archived:   archived,
		SyncStatus: models.SyncSynced,
	}
	if v, ok := r.EndTime.num(); ok {
		e.EndTime = models.Millis(v).Ptr()
	}
	if v, ok := r.Duration.num(); ok && e.EndTime != nil {
		e.Duration = &v
	} else if e.EndTime != nil {
		d := models.Duration(e.StartTime, *e.EndTime)
		e.Duration = &d
	}
	if v, ok := r.Intensity.num(); ok && v >= models.MinIntensity && v <= models.MaxIntensity {
		i := int(v)
		e.Intensity = &i
	}
	if v, ok := r.CreatedAt.num(); ok {
		e.CreatedAt = models.Millis(v)
	}
	if v, ok := r.UpdatedAt.num(); ok {
		e.UpdatedAt = models.Millis(v)
	}
	return e, true
}

// --- transport ---

func (s *Sheets) do(ctx context.Context, action, sheet string, params url.Values, body any) (*sheetsResponse, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return nil, fmt.Errorf("sheets: parse url: %w", err)
	}
	q := u.Query()
	q.Set("action", action)
	q.Set("sheetName", sheet)
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	method := http.MethodGet
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("sheets: marshal %s: %w", action, err)
		}
		method = http.MethodPost
		reader = strings.NewReader(url.Values{"data": {string(data)}}.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("sheets: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, &apperr.UnreachableError{Backend: string(KindPolling), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperr.UnreachableError{Backend: string(KindPolling), Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode >= 500 {
		return nil, &apperr.UnreachableError{Backend: string(KindPolling), Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return nil, &apperr.RejectedError{Backend: string(KindPolling), Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}
	}

	var out sheetsResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &apperr.RejectedError{Backend: string(KindPolling), Message: "malformed response: " + err.Error()}
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "unknown error from proxy"
		}
		return nil, &apperr.RejectedError{Backend: string(KindPolling), Message: msg}
	}
	return &out, nil
}

func (s *Sheets) fetch(ctx context.Context, sheet string) ([]sheetRecord, error) {
	resp, err := s.do(ctx, "getAll", sheet, nil, nil)
	if err != nil {
		return nil, err
	}
	var recs []sheetRecord
	if len(resp.Data) > 0 && string(resp.Data) != "null" {
		if err := json.Unmarshal(resp.Data, &recs); err != nil {
			return nil, &apperr.RejectedError{Backend: string(KindPolling), Message: "malformed rows: " + err.Error()}
		}
	}
	return recs, nil
}

// --- row cache ---

func (s *Sheets) invalidate() {
	s.mu.Lock()
	s.rows = nil
	s.mu.Unlock()
}

func (s *Sheets) store(recs []sheetRecord) {
	rows := make(map[string]rowRef, len(recs))
	for _, r := range recs {
		if string(r.Deleted) == DeletedMarker {
			continue
		}
		if e, ok := r.decode(false); ok {
			rows[e.ID] = rowRef{index: r.SheetRowID, event: e}
		}
	}
	s.mu.Lock()
	s.rows = rows
	s.fetchedAt = s.now()
	s.mu.Unlock()
}

// locate returns the row holding id, refreshing the cache when stale.
func (s *Sheets) locate(ctx context.Context, id string) (rowRef, bool, error) {
	s.mu.Lock()
	fresh := s.rows != nil && s.now().Sub(s.fetchedAt) < rowCacheTTL
	ref, ok := s.rows[id]
	s.mu.Unlock()
	if fresh {
		return ref, ok, nil
	}

	recs, err := s.fetch(ctx, s.sheet)
	if err != nil {
		return rowRef{}, false, err
	}
	s.store(recs)
	s.mu.Lock()
	ref, ok = s.rows[id]
	s.mu.Unlock()
	return ref, ok, nil
}

func (s *Sheets) remember(id string, ref rowRef) {
	s.mu.Lock()
	if s.rows != nil {
		s.rows[id] = ref
	}
	s.mu.Unlock()
}

// --- Adapter ---

// Initialize writes the header row on an empty sheet.
func (s *Sheets) Initialize(ctx context.Context) error {
	_, err := s.do(ctx, "initialize", s.sheet, nil, nil)
	return err
}

// TestConnection issues the proxy's test action.
func (s *Sheets) TestConnection(ctx context.Context) error {
	_, err := s.do(ctx, "test", s.sheet, nil, nil)
	return err
}

// PushCreate overwrites the event's row when one exists and appends
// otherwise, so replays never duplicate. Archived events are moved to the
// archive sheet afterwards.
func (s *Sheets) PushCreate(ctx context.Context, e models.Event) error {
	ref, ok, err := s.locate(ctx, e.ID)
	if err != nil {
		return err
	}
	row := EncodeRow(e)
	if ok {
		if _, err := s.do(ctx, "update", s.sheet, nil, rowUpdate{RowIndex: ref.index, Row: row}); err != nil {
			return err
		}
		s.remember(e.ID, rowRef{index: ref.index, event: e.Clone()})
	} else {
		if _, err := s.do(ctx, "append", s.sheet, nil, map[string]any{"rows": [][]string{row}}); err != nil {
			return err
		}
		s.invalidate()
	}
	if e.Archived {
		return s.PushArchive(ctx, e.ID, e.UpdatedAt)
	}
	return nil
}

// PushUpdate rewrites the row from its cached content with patch applied.
// A missing row yields NotFound so callers can fall back to PushCreate.
func (s *Sheets) PushUpdate(ctx context.Context, id string, patch models.EventPatch) error {
	ref, ok, err := s.locate(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound(id)
	}
	e := ref.event.Clone()
	patch.Apply(&e)
	e.UpdatedAt = patch.UpdatedAt
	if e.UpdatedAt == 0 {
		e.UpdatedAt = models.FromTime(s.now())
	}
	if _, err := s.do(ctx, "update", s.sheet, nil, rowUpdate{RowIndex: ref.index, Row: EncodeRow(e)}); err != nil {
		return err
	}
	s.remember(id, rowRef{index: ref.index, event: e})
	if e.Archived {
		return s.PushArchive(ctx, id, e.UpdatedAt)
	}
	return nil
}

// PushArchive stamps updatedAt with at and moves the row to the archive
// sheet. Archiving a row that is not on the main sheet is a no-op.
func (s *Sheets) PushArchive(ctx context.Context, id string, at models.Millis) error {
	ref, ok, err := s.locate(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		slog.Debug("sheets: archive of absent row", "id", id)
		return nil
	}
	e := ref.event.Clone()
	e.UpdatedAt = s.archiveStamp(at)
	if _, err := s.do(ctx, "update", s.sheet, nil, rowUpdate{RowIndex: ref.index, Row: EncodeRow(e)}); err != nil {
		return err
	}
	params := url.Values{"rowIndex": {strconv.Itoa(ref.index)}}
	_, err = s.do(ctx, "archive", s.sheet, params, nil)
	s.invalidate()
	return err
}

// PushBatchArchive stamps every present row and moves them in one request.
func (s *Sheets) PushBatchArchive(ctx context.Context, ids []string, at models.Millis) error {
	if len(ids) == 0 {
		return nil
	}
	stamp := s.archiveStamp(at)
	var updates []rowUpdate
	for _, id := range ids {
		ref, ok, err := s.locate(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		e := ref.event.Clone()
		e.UpdatedAt = stamp
		updates = append(updates, rowUpdate{RowIndex: ref.index, Row: EncodeRow(e)})
	}
	if len(updates) == 0 {
		return nil
	}
	if _, err := s.do(ctx, "batchUpdate", s.sheet, nil, map[string]any{"updates": updates}); err != nil {
		return err
	}
	_, err := s.do(ctx, "archiveAll", s.sheet, nil, map[string]any{"contractionIds": ids})
	s.invalidate()
	return err
}

func (s *Sheets) archiveStamp(at models.Millis) models.Millis {
	if at != 0 {
		return at
	}
	return models.FromTime(s.now())
}

// PushDelete marks the row with the deleted sentinel.
func (s *Sheets) PushDelete(ctx context.Context, id string) error {
	ref, ok, err := s.locate(ctx, id)
	if err != nil || !ok {
		return err
	}
	params := url.Values{"rowIndex": {strconv.Itoa(ref.index)}}
	_, err = s.do(ctx, "delete", s.sheet, params, nil)
	s.invalidate()
	return err
}

// PullAll reads the main sheet and, when includeArchived is set, the archive
// sheet. An id present on both keeps the copy with the newer updatedAt.
func (s *Sheets) PullAll(ctx context.Context, includeArchived bool) ([]models.Event, error) {
	recs, err := s.fetch(ctx, s.sheet)
	if err != nil {
		return nil, err
	}
	s.store(recs)

	byID := make(map[string]models.Event, len(recs))
	var order []string
	add := func(e models.Event) {
		cur, ok := byID[e.ID]
		if !ok {
			order = append(order, e.ID)
		}
		if !ok || e.UpdatedAt > cur.UpdatedAt {
			byID[e.ID] = e
		}
	}
	for _, r := range recs {
		if string(r.Deleted) == DeletedMarker {
			continue
		}
		if e, ok := r.decode(false); ok {
			add(e)
		}
	}

	if includeArchived {
		archived, err := s.fetch(ctx, ArchivedSheetName)
		var rejected *apperr.RejectedError
		switch {
		case errors.As(err, &rejected):
			// the archive sheet is created lazily by the proxy
			slog.Debug("sheets: archive sheet unavailable", "err", err)
		case err != nil:
			return nil, err
		}
		for _, r := range archived {
			if string(r.Deleted) == DeletedMarker {
				continue
			}
			if e, ok := r.decode(true); ok {
				add(e)
			}
		}
	}

	out := make([]models.Event, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	models.SortByStartDesc(out)
	return out, nil
}

// PushBatchUpsert appends events missing from the sheet and rewrites the
// rest, two requests at most.
func (s *Sheets) PushBatchUpsert(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	var appends [][]string
	var updates []rowUpdate
	var archive []string
	for _, e := range events {
		ref, ok, err := s.locate(ctx, e.ID)
		if err != nil {
			return err
		}
		if ok {
			updates = append(updates, rowUpdate{RowIndex: ref.index, Row: EncodeRow(e)})
		} else {
			appends = append(appends, EncodeRow(e))
		}
		if e.Archived {
			archive = append(archive, e.ID)
		}
	}
	if len(updates) > 0 {
		if _, err := s.do(ctx, "batchUpdate", s.sheet, nil, map[string]any{"updates": updates}); err != nil {
			return err
		}
	}
	if len(appends) > 0 {
		if _, err := s.do(ctx, "append", s.sheet, nil, map[string]any{"rows": appends}); err != nil {
			return err
		}
	}
	s.invalidate()
	if len(archive) > 0 {
		_, err := s.do(ctx, "archiveAll", s.sheet, nil, map[string]any{"contractionIds": archive})
		return err
	}
	return nil
}

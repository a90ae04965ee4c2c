// Package remotetest provides in-process fakes of the remote backends for
// tests: a spreadsheet proxy served over httptest and a realtime document
// server over a WebSocket.
package remotetest

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

const (
	mainSheet     = "Contractions"
	archivedSheet = "Archived Contractions"
	columns       = 9
)

// SheetsServer emulates the spreadsheet web-app proxy. Sheets are stored in
// an in-memory SQLite table; row 1 of every sheet is the header, so data rows
// start at index 2 and shift when rows are removed.
type SheetsServer struct {
	*httptest.Server

	db *sql.DB

	mu       sync.Mutex
	failures []int
	requests []string
}

// NewSheetsServer starts a fake proxy that is closed on test cleanup.
func NewSheetsServer(t testing.TB) *SheetsServer {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open fake sheet store: %v", err)
	}
	// one connection keeps the in-memory database alive
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(`CREATE TABLE rows (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		sheet TEXT NOT NULL,
		cells TEXT NOT NULL
	)`); err != nil {
		t.Fatalf("create fake sheet store: %v", err)
	}

	s := &SheetsServer{db: conn}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		s.Close()
		conn.Close()
	})
	return s
}

// FailNext makes the next n requests answer with HTTP status code.
func (s *SheetsServer) FailNext(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.failures = append(s.failures, status)
	}
}

// Actions returns the action of every request received, in order.
func (s *SheetsServer) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// Rows returns the data rows of sheet in position order.
func (s *SheetsServer) Rows(sheet string) [][]string {
	rows, _, err := s.list(sheet)
	if err != nil {
		return nil
	}
	return rows
}

// AppendRow inserts a raw row, bypassing the HTTP surface.
func (s *SheetsServer) AppendRow(sheet string, row []string) error {
	return s.insert(sheet, row)
}

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type rowUpdate struct {
	RowIndex int      `json:"rowIndex"`
	Row      []string `json:"row"`
}

func (s *SheetsServer) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	action := r.URL.Query().Get("action")
	sheet := r.URL.Query().Get("sheetName")
	if sheet == "" {
		sheet = mainSheet
	}

	s.mu.Lock()
	s.requests = append(s.requests, action)
	var status int
	if len(s.failures) > 0 {
		status, s.failures = s.failures[0], s.failures[1:]
	}
	s.mu.Unlock()
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	res, err := s.dispatch(action, sheet, r)
	if err != nil {
		res = response{Error: err.Error()}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

func (s *SheetsServer) dispatch(action, sheet string, r *http.Request) (response, error) {
	data := r.PostFormValue("data")
	switch action {
	case "test":
		return response{Success: true, Message: "Connection successful"}, nil

	case "initialize":
		return response{Success: true, Message: "Sheet initialized with headers"}, nil

	case "getAll":
		return s.getAll(sheet)

	case "append":
		var body struct {
			Rows [][]string `json:"rows"`
		}
		if err := json.Unmarshal([]byte(data), &body); err != nil || len(body.Rows) == 0 {
			return response{}, fmt.Errorf("No rows to append")
		}
		for _, row := range body.Rows {
			if err := s.insert(sheet, row); err != nil {
				return response{}, err
			}
		}
		return response{Success: true, Message: fmt.Sprintf("Appended %d row(s)", len(body.Rows))}, nil

	case "update":
		var body rowUpdate
		if err := json.Unmarshal([]byte(data), &body); err != nil || body.RowIndex == 0 || body.Row == nil {
			return response{}, fmt.Errorf("Missing rowIndex or row data")
		}
		if err := s.setRow(sheet, body.RowIndex, body.Row); err != nil {
			return response{}, err
		}
		return response{Success: true, Message: "Row updated"}, nil

	case "batchUpdate":
		var body struct {
			Updates []rowUpdate `json:"updates"`
		}
		if err := json.Unmarshal([]byte(data), &body); err != nil || len(body.Updates) == 0 {
			return response{}, fmt.Errorf("No updates provided")
		}
		for _, u := range body.Updates {
			if err := s.setRow(sheet, u.RowIndex, u.Row); err != nil {
				return response{}, err
			}
		}
		return response{Success: true, Message: fmt.Sprintf("Updated %d row(s)", len(body.Updates))}, nil

	case "delete":
		idx, _ := strconv.Atoi(r.URL.Query().Get("rowIndex"))
		if idx == 0 {
			return response{}, fmt.Errorf("Missing rowIndex")
		}
		seq, row, err := s.rowAt(sheet, idx)
		if err != nil {
			return response{}, err
		}
		row[8] = "DELETED"
		return response{Success: true, Message: "Row marked as deleted"}, s.save(seq, row)

	case "archive":
		idx, _ := strconv.Atoi(r.URL.Query().Get("rowIndex"))
		if idx == 0 {
			return response{}, fmt.Errorf("Missing rowIndex")
		}
		seq, row, err := s.rowAt(sheet, idx)
		if err != nil {
			return response{}, err
		}
		if err := s.move(seq, row); err != nil {
			return response{}, err
		}
		return response{Success: true, Message: "Contraction archived"}, nil

	case "archiveAll":
		var body struct {
			ContractionIDs []string `json:"contractionIds"`
		}
		if err := json.Unmarshal([]byte(data), &body); err != nil || len(body.ContractionIDs) == 0 {
			return response{}, fmt.Errorf("No contraction IDs provided")
		}
		rows, seqs, err := s.list(sheet)
		if err != nil {
			return response{}, err
		}
		moved := 0
		for i, row := range rows {
			if slices.Contains(body.ContractionIDs, row[0]) {
				if err := s.move(seqs[i], row); err != nil {
					return response{}, err
				}
				moved++
			}
		}
		return response{Success: true, Message: fmt.Sprintf("Archived %d contraction(s)", moved)}, nil
	}
	return response{}, fmt.Errorf("Unknown action: %s", action)
}

// getAll mirrors the proxy: numeric cells come back as JSON numbers, rows
// without an id and rows marked deleted are skipped.
func (s *SheetsServer) getAll(sheet string) (response, error) {
	rows, _, err := s.list(sheet)
	if err != nil {
		return response{}, err
	}
	keys := []string{"id", "startTime", "endTime", "duration", "intensity", "notes", "createdAt", "updatedAt", "deleted"}
	out := []map[string]any{}
	for i, row := range rows {
		if row[0] == "" || row[8] == "DELETED" {
			continue
		}
		rec := map[string]any{"sheetRowId": i + 2}
		for c, key := range keys {
			if n, err := strconv.ParseInt(row[c], 10, 64); err == nil && c > 0 {
				rec[key] = n
			} else {
				rec[key] = row[c]
			}
		}
		out = append(out, rec)
	}
	return response{Success: true, Data: out}, nil
}

func (s *SheetsServer) list(sheet string) ([][]string, []int64, error) {
	rs, err := s.db.Query(`SELECT seq, cells FROM rows WHERE sheet = ? ORDER BY seq`, sheet)
	if err != nil {
		return nil, nil, err
	}
	defer rs.Close()
	var rows [][]string
	var seqs []int64
	for rs.Next() {
		var seq int64
		var raw string
		if err := rs.Scan(&seq, &raw); err != nil {
			return nil, nil, err
		}
		var row []string
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return nil, nil, err
		}
		rows = append(rows, row)
		seqs = append(seqs, seq)
	}
	return rows, seqs, rs.Err()
}

func (s *SheetsServer) rowAt(sheet string, index int) (int64, []string, error) {
	rows, seqs, err := s.list(sheet)
	if err != nil {
		return 0, nil, err
	}
	i := index - 2
	if i < 0 || i >= len(rows) {
		return 0, nil, fmt.Errorf("row %d out of range", index)
	}
	return seqs[i], rows[i], nil
}

func (s *SheetsServer) insert(sheet string, row []string) error {
	raw, err := json.Marshal(pad(row))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO rows (sheet, cells) VALUES (?, ?)`, sheet, string(raw))
	return err
}

func (s *SheetsServer) setRow(sheet string, index int, row []string) error {
	seq, _, err := s.rowAt(sheet, index)
	if err != nil {
		return err
	}
	return s.save(seq, row)
}

func (s *SheetsServer) save(seq int64, row []string) error {
	raw, err := json.Marshal(pad(row))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE rows SET cells = ? WHERE seq = ?`, string(raw), seq)
	return err
}

func (s *SheetsServer) move(seq int64, row []string) error {
	if err := s.insert(archivedSheet, row); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM rows WHERE seq = ?`, seq)
	return err
}

func pad(row []string) []string {
	out := make([]string, columns)
	copy(out, row)
	return out
}

// Package monitor is the live contraction timer behind `ct watch`.
package monitor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/ct/internal/apperr"
	"github.com/marcus/ct/internal/models"
	"github.com/marcus/ct/internal/syncer"
	"github.com/marcus/ct/internal/tracker"
)

// Phase is what the keyboard currently drives
type Phase int

const (
	PhaseTimer Phase = iota
	PhaseRate        // picking an intensity for the event just stopped
	PhaseNotes       // typing notes for it
)

// Syncer is the slice of the orchestrator the view uses. Nil for the
// passive backend.
type Syncer interface {
	SyncNow(ctx context.Context) (syncer.State, error)
	State() syncer.State
}

// Model is the main Bubble Tea model for the watch TUI
type Model struct {
	Service *tracker.Service
	Sync    Syncer

	// Window dimensions
	Width  int
	Height int

	// Data
	Active   *models.Event
	Events   []models.Event
	Stats    models.Stats
	Labor    bool
	SyncInfo *syncer.State

	// UI state
	Phase       Phase
	Stopped     *models.Event // target of the rate/notes phases
	NotesInput  textinput.Model
	ShowHelp    bool
	Now         time.Time
	LastRefresh time.Time
	Status      string
	Err         error

	// Configuration
	RefreshInterval time.Duration
}

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// MinHeight is the minimum terminal height for proper display
const MinHeight = 12

// TickMsg advances the running timer
type TickMsg time.Time

// RefreshDataMsg carries refreshed data
type RefreshDataMsg struct {
	Active    *models.Event
	Events    []models.Event
	Stats     models.Stats
	Labor     bool
	Err       error
	Timestamp time.Time
}

// ActionResultMsg reports the outcome of a keyboard action.
type ActionResultMsg struct {
	Status  string
	Stopped *models.Event
	Err     error
}

// SyncStateMsg is delivered by the orchestrator's change listener.
type SyncStateMsg syncer.State

// DataChangedMsg asks for a reload, e.g. after a remote snapshot.
type DataChangedMsg struct{}

// NewModel creates a new watch model
func NewModel(svc *tracker.Service, sync Syncer, interval time.Duration) Model {
	ti := textinput.New()
	ti.Placeholder = "Notes (enter to save, esc to skip)"
	ti.CharLimit = 500
	ti.Width = 40

	m := Model{
		Service:         svc,
		Sync:            sync,
		NotesInput:      ti,
		Now:             time.Now(),
		RefreshInterval: interval,
	}
	if sync != nil {
		st := sync.State()
		m.SyncInfo = &st
	}
	return m
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchData(), m.scheduleTick())
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case TickMsg:
		m.Now = time.Time(msg)
		cmds := []tea.Cmd{m.scheduleTick()}
		if m.RefreshInterval > 0 && m.Now.Sub(m.LastRefresh) >= m.RefreshInterval {
			cmds = append(cmds, m.fetchData())
		}
		return m, tea.Batch(cmds...)

	case RefreshDataMsg:
		m.LastRefresh = msg.Timestamp
		if msg.Err != nil {
			m.Err = msg.Err
			return m, nil
		}
		m.Err = nil
		m.Active = msg.Active
		m.Events = msg.Events
		m.Stats = msg.Stats
		m.Labor = msg.Labor
		return m, nil

	case ActionResultMsg:
		if msg.Err != nil {
			m.Status = friendlyError(msg.Err)
			return m, m.fetchData()
		}
		m.Status = msg.Status
		if msg.Stopped != nil {
			m.Stopped = msg.Stopped
			m.Phase = PhaseRate
		}
		return m, m.fetchData()

	case SyncStateMsg:
		st := syncer.State(msg)
		m.SyncInfo = &st
		return m, nil

	case DataChangedMsg:
		return m, m.fetchData()
	}

	return m, nil
}

// handleKey processes key input for the current phase
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	switch m.Phase {
	case PhaseRate:
		return m.handleRateKey(msg)
	case PhaseNotes:
		return m.handleNotesKey(msg)
	}

	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit

	case " ", "enter":
		if m.Active != nil {
			return m, m.run(func(ctx context.Context) ActionResultMsg {
				e, err := m.Service.Stop(ctx, nil, "")
				if err != nil {
					return ActionResultMsg{Err: err}
				}
				return ActionResultMsg{Status: "Stopped", Stopped: e}
			})
		}
		return m, m.run(func(ctx context.Context) ActionResultMsg {
			if _, err := m.Service.Start(ctx); err != nil {
				return ActionResultMsg{Err: err}
			}
			return ActionResultMsg{Status: "Started"}
		})

	case "u":
		return m, m.run(func(ctx context.Context) ActionResultMsg {
			entry, err := m.Service.Undo(ctx)
			if err != nil {
				return ActionResultMsg{Err: err}
			}
			return ActionResultMsg{Status: "Undid: " + entry.Description}
		})

	case "ctrl+r", "U":
		return m, m.run(func(ctx context.Context) ActionResultMsg {
			entry, err := m.Service.Redo(ctx)
			if err != nil {
				return ActionResultMsg{Err: err}
			}
			return ActionResultMsg{Status: "Redid: " + entry.Description}
		})

	case "s":
		if m.Sync == nil {
			m.Status = "No sync backend configured"
			return m, nil
		}
		sync := m.Sync
		return m, m.run(func(ctx context.Context) ActionResultMsg {
			st, err := sync.SyncNow(ctx)
			if err != nil {
				return ActionResultMsg{Err: err}
			}
			return ActionResultMsg{Status: "Synced (" + string(st.Status) + ")"}
		})

	case "r":
		return m, m.fetchData()

	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil
	}

	return m, nil
}

// handleRateKey takes 1-9, 0 for 10, or enter/esc to skip rating.
func (m Model) handleRateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch {
	case key == "esc" || key == "enter":
		return m.enterNotes(), nil
	case len(key) == 1 && key[0] >= '0' && key[0] <= '9':
		intensity := int(key[0] - '0')
		if intensity == 0 {
			intensity = models.MaxIntensity
		}
		id := m.Stopped.ID
		next := m.enterNotes()
		return next, m.run(func(ctx context.Context) ActionResultMsg {
			if _, err := m.Service.Update(ctx, id, models.EventPatch{Intensity: &intensity}); err != nil {
				return ActionResultMsg{Err: err}
			}
			return ActionResultMsg{Status: "Rated " + key}
		})
	}
	return m, nil
}

func (m Model) enterNotes() Model {
	m.Phase = PhaseNotes
	m.NotesInput.Reset()
	m.NotesInput.Focus()
	return m
}

func (m Model) handleNotesKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.Phase = PhaseTimer
		m.NotesInput.Blur()
		m.Stopped = nil
		return m, nil
	case "enter":
		notes := strings.TrimSpace(m.NotesInput.Value())
		m.Phase = PhaseTimer
		m.NotesInput.Blur()
		stopped := m.Stopped
		m.Stopped = nil
		if notes == "" || stopped == nil {
			return m, nil
		}
		id := stopped.ID
		return m, m.run(func(ctx context.Context) ActionResultMsg {
			if _, err := m.Service.Update(ctx, id, models.EventPatch{Notes: &notes}); err != nil {
				return ActionResultMsg{Err: err}
			}
			return ActionResultMsg{Status: "Notes saved"}
		})
	}
	var cmd tea.Cmd
	m.NotesInput, cmd = m.NotesInput.Update(msg)
	return m, cmd
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

// scheduleTick returns a command that sends a TickMsg every second
func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchData returns a command that loads everything the view shows
func (m Model) fetchData() tea.Cmd {
	svc := m.Service
	return func() tea.Msg {
		return FetchData(context.Background(), svc)
	}
}

func (m Model) run(fn func(ctx context.Context) ActionResultMsg) tea.Cmd {
	return func() tea.Msg {
		return fn(context.Background())
	}
}

func friendlyError(err error) string {
	switch {
	case errors.Is(err, apperr.ErrNothingToUndo):
		return "Nothing to undo"
	case errors.Is(err, apperr.ErrNothingToRedo):
		return "Nothing to redo"
	case errors.Is(err, apperr.ErrBusy):
		return "Busy, try again"
	case errors.Is(err, apperr.ErrAlreadyActive):
		return "A contraction is already running"
	}
	return "Error: " + err.Error()
}

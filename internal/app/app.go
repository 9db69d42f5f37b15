// Package app is the root Bubble Tea model of the notification center.
package app

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/auditwatch/internal/health"
	"github.com/nhle/auditwatch/internal/model"
	"github.com/nhle/auditwatch/internal/session"
	"github.com/nhle/auditwatch/internal/ui"
	helpview "github.com/nhle/auditwatch/internal/ui/help"
	"github.com/nhle/auditwatch/internal/ui/notifylist"
)

// reconnectTimeout bounds a user-requested reconnect.
const reconnectTimeout = 30 * time.Second

// reconnectResultMsg carries the outcome of a reconnect to the UI.
type reconnectResultMsg struct {
	err error
}

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewList ViewState = iota
	ViewHelp
)

// Model is the root Bubble Tea model that routes between the notification
// list and the help overlay and shows connection health.
type Model struct {
	currentView   ViewState
	layout        ui.Layout
	session       *session.Session
	keys          *KeyMap
	list          notifylist.Model
	helpView      helpview.Model
	snapshots     <-chan []model.Notification
	stopWatch     func()
	health        model.HealthRecord
	unread        int
	ready         bool
	statusMessage string
}

// New creates the root model for an open session.
func New(s *session.Session) Model {
	keys := DefaultKeyMap()
	snapshots, stop := s.Store().Watch()

	return Model{
		currentView: ViewList,
		session:     s,
		keys:        keys,
		list:        notifylist.New(s.Store(), keys, 80, 24),
		helpView:    helpview.New(keys, 80, 24),
		snapshots:   snapshots,
		stopWatch:   stop,
		health:      s.Monitor().Record(),
	}
}

// Init starts listening for notification and health updates.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		notifylist.WaitForSnapshot(m.snapshots),
		m.session.Monitor().WaitForUpdate(),
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		m.list.SetSize(m.layout.ContentWidth(), m.layout.ContentHeight())
		m.helpView.SetSize(m.layout.ContentWidth(), m.layout.ContentHeight())
		return m, nil

	case notifylist.SnapshotMsg:
		if msg.Closed {
			return m, nil
		}
		m.unread = countUnread(msg.Notifications)
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, tea.Batch(cmd, notifylist.WaitForSnapshot(m.snapshots))

	case health.UpdateMsg:
		m.health = msg.Record
		return m, m.session.Monitor().WaitForUpdate()

	case reconnectResultMsg:
		if msg.err != nil {
			m.statusMessage = "reconnect failed: " + msg.err.Error()
		} else {
			m.statusMessage = "reconnected"
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m.updateActiveView(msg)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.statusMessage = ""

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.stopWatch()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		if m.currentView == ViewHelp {
			m.currentView = ViewList
		} else {
			m.currentView = ViewHelp
		}
		return m, nil

	case m.currentView == ViewHelp && msg.String() == "esc":
		m.currentView = ViewList
		return m, nil

	case key.Matches(msg, m.keys.Reconnect):
		m.statusMessage = "reconnecting..."
		return m, m.reconnect()

	case key.Matches(msg, m.keys.ResetCount):
		m.session.Monitor().Reset()
		return m, nil
	}

	return m.updateActiveView(msg)
}

// updateActiveView forwards a message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.currentView {
	case ViewList:
		m.list, cmd = m.list.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	}
	return m, cmd
}

// reconnect returns a command that reopens closed channels and re-checks
// the backend.
func (m Model) reconnect() tea.Cmd {
	s := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), reconnectTimeout)
		defer cancel()
		return reconnectResultMsg{err: s.Reconnect(ctx)}
	}
}

// View renders the full terminal UI.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader("auditwatch", ui.NewSessionStatus(m.health, m.unread))
	statusBar := m.layout.RenderStatusBar(m.keyHints(), m.notice())
	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

// renderContent renders the active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewHelp:
		return m.helpView.View()
	default:
		return m.list.View()
	}
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	default:
		return "q quit | ? help | enter read | a all read | d remove | r reconnect"
	}
}

// notice returns the transient status bar message, falling back to a
// warning while the connection is degraded.
func (m Model) notice() string {
	if m.statusMessage != "" {
		return m.statusMessage
	}
	if !m.health.Healthy() && m.health.Connection != model.ConnectionChecking {
		return "connection degraded"
	}
	return ""
}

func countUnread(ns []model.Notification) int {
	n := 0
	for _, item := range ns {
		if !item.Read {
			n++
		}
	}
	return n
}

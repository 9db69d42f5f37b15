// Package notifylist renders the notification center list and turns key
// presses into store actions.
package notifylist

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/auditwatch/internal/keys"
	"github.com/nhle/auditwatch/internal/model"
	"github.com/nhle/auditwatch/internal/notify"
	"github.com/nhle/auditwatch/internal/theme"
)

// SnapshotMsg is sent when the notification store publishes a new list.
// A closed watch yields a SnapshotMsg with Closed set.
type SnapshotMsg struct {
	Notifications []model.Notification
	Closed        bool
}

// Model is the notification list view component.
type Model struct {
	list   list.Model
	store  *notify.Store
	keys   *keys.KeyMap
	width  int
	height int
}

// New creates a new notification list model over s.
func New(s *notify.Store, k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height-2)
	l.Title = "Notifications"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle
	l.SetStatusBarItemName("notification", "notifications")

	return Model{
		list:   l,
		store:  s,
		keys:   k,
		width:  width,
		height: height,
	}
}

// WaitForSnapshot returns a tea.Cmd that waits for the next snapshot on
// ch. Call it again after handling each SnapshotMsg.
func WaitForSnapshot(ch <-chan []model.Notification) tea.Cmd {
	return func() tea.Msg {
		ns, ok := <-ch
		if !ok {
			return SnapshotMsg{Closed: true}
		}
		return SnapshotMsg{Notifications: ns}
	}
}

// Update handles messages for the list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case SnapshotMsg:
		items := make([]list.Item, len(msg.Notifications))
		for i, n := range msg.Notifications {
			items[i] = NotificationItem{Notification: n}
		}
		cmd := m.list.SetItems(items)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// handleKeys applies store actions. The store publishes the resulting
// list through its watch channel, so no reload is needed here.
func (m Model) handleKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.MarkRead):
		if item, ok := m.list.SelectedItem().(NotificationItem); ok {
			m.store.MarkRead(item.Notification.ID)
		}
		return m, nil

	case key.Matches(msg, m.keys.MarkAllRead):
		m.store.MarkAllRead()
		return m, nil

	case key.Matches(msg, m.keys.Remove):
		if item, ok := m.list.SelectedItem().(NotificationItem); ok {
			m.store.Remove(item.Notification.ID)
		}
		return m, nil

	case key.Matches(msg, m.keys.Clear):
		m.store.Clear()
		return m, nil
	}

	// Delegate to the list for navigation keys (up/down/pgup/pgdn)
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the list view.
func (m Model) View() string {
	if len(m.list.Items()) == 0 {
		return m.renderEmptyState()
	}
	return m.list.View()
}

// renderEmptyState shows guidance text when there are no notifications.
func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	return style.Render(
		"No notifications yet.\n\n" +
			"New messages, audit updates and payments appear here as they happen.",
	)
}

// Len returns the number of notifications shown.
func (m Model) Len() int {
	return len(m.list.Items())
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
}

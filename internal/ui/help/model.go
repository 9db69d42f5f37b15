// Package help renders the key bindings and a legend of the markers used
// in the notification list and header.
package help

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/auditwatch/internal/keys"
	"github.com/nhle/auditwatch/internal/model"
	"github.com/nhle/auditwatch/internal/theme"
)

// legendEntry explains one marker.
type legendEntry struct {
	marker string
	text   string
}

// Model is the help overlay.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	width  int
	height int
}

// New creates the help overlay for k.
func New(k *keys.KeyMap, width, height int) Model {
	m := Model{keys: k, help: help.New()}
	m.help.ShowAll = true
	m.SetSize(width, height)
	return m
}

// Update is a no-op; the root model closes the overlay.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

// View renders the key bindings followed by the legend.
func (m Model) View() string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionTitle("Keyboard Shortcuts"),
		m.help.View(m.keys),
		"",
		sectionTitle("Legend"),
		renderLegend(legend()),
	)

	return theme.PanelStyle.
		Width(m.width - 4).
		Height(m.height - 4).
		Render(content)
}

// SetSize updates the overlay dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}

func sectionTitle(s string) string {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1).
		Render(s)
}

// legend lists the unread marker, the category badges and the connection
// states in the order they appear on screen.
func legend() []legendEntry {
	entries := []legendEntry{
		{marker: theme.UnreadStyle.Render("●"), text: "unread"},
	}
	for _, c := range []model.Category{
		model.CategoryMessage,
		model.CategoryAudit,
		model.CategoryPayment,
		model.CategorySystem,
	} {
		entries = append(entries, legendEntry{
			marker: theme.CategoryLabelStyle(c).Render(theme.CategoryBadge(c)),
			text:   string(c),
		})
	}
	for _, s := range []model.ConnectionStatus{
		model.ConnectionConnected,
		model.ConnectionChecking,
		model.ConnectionDisconnected,
	} {
		entries = append(entries, legendEntry{
			marker: theme.ConnectionStyle(s).Render("●"),
			text:   string(s),
		})
	}
	return entries
}

func renderLegend(entries []legendEntry) string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = lipgloss.NewStyle().Width(5).Render(e.marker) + theme.HelpStyle.Render(e.text)
	}
	return strings.Join(lines, "\n")
}

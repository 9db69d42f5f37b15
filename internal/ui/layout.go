// Package ui holds the frame shared by the notification center views.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/auditwatch/internal/model"
	"github.com/nhle/auditwatch/internal/theme"
)

// headerSeparator divides the header status segments.
const headerSeparator = " | "

// SessionStatus is the summary of the signed-in session shown in the
// header.
type SessionStatus struct {
	Connection model.ConnectionStatus
	Auth       model.AuthStatus
	RTT        time.Duration
	Unread     int
	Errors     int

	// Channels holds the status of each realtime channel by name.
	Channels map[string]model.SubscriptionStatus
}

// NewSessionStatus builds the header summary from a health record and the
// current unread count.
func NewSessionStatus(rec model.HealthRecord, unread int) SessionStatus {
	return SessionStatus{
		Connection: rec.Connection,
		Auth:       rec.Auth,
		RTT:        rec.LastRTT,
		Unread:     unread,
		Errors:     rec.ErrorCount,
		Channels:   rec.Channels,
	}
}

// Segments renders the status pieces left to right. The signed-out and
// error segments only appear when they apply.
func (s SessionStatus) Segments() []string {
	conn := string(s.Connection)
	if s.Connection == model.ConnectionConnected && s.RTT > 0 {
		conn = fmt.Sprintf("%s %dms", conn, s.RTT.Milliseconds())
	}

	segments := []string{
		theme.ConnectionStyle(s.Connection).Render("● " + conn),
		fmt.Sprintf("%d unread", s.Unread),
		s.channelSegment(),
	}
	if s.Auth == model.AuthUnauthenticated {
		segments = append(segments, theme.ConnectionStyle(model.ConnectionDisconnected).Render("signed out"))
	}
	if s.Errors > 0 {
		segments = append(segments, fmt.Sprintf("⚠ %d errors", s.Errors))
	}
	return segments
}

// channelSegment reports how many realtime channels are subscribed. It is
// green only when all of them are.
func (s SessionStatus) channelSegment() string {
	subscribed := 0
	for _, st := range s.Channels {
		if st == model.SubscriptionSubscribed {
			subscribed++
		}
	}

	status := model.SubscriptionSubscribed
	if subscribed < len(s.Channels) {
		status = model.SubscriptionClosed
	}
	return theme.ChannelStyle(status).Render(
		fmt.Sprintf("channels %d/%d", subscribed, len(s.Channels)),
	)
}

// Layout holds the terminal dimensions and splits them into the header,
// content area and status bar.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout for the given terminal size with one-line
// header and status bar.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the width available to views.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height left for views between the header and
// the status bar.
func (l Layout) ContentHeight() int {
	return l.Height - l.HeaderHeight - l.StatusBarHeight
}

// RenderHeader draws the title on the left and the session status on the
// right, padded to the full width.
func (l Layout) RenderHeader(title string, status SessionStatus) string {
	left := theme.HeaderStyle.Render(title)
	right := theme.HeaderStyle.Render(strings.Join(status.Segments(), headerSeparator))
	return l.fill(theme.HeaderStyle, left, right)
}

// RenderStatusBar draws the key hints. A non-empty notice, such as the
// outcome of a reconnect, is shown in front of them.
func (l Layout) RenderStatusBar(hints, notice string) string {
	text := hints
	if notice != "" {
		text = theme.NoticeStyle.Render(notice) + headerSeparator + hints
	}
	return l.fill(theme.StatusBarStyle, theme.StatusBarStyle.Render(text), "")
}

// fill joins left and right with a background-colored gap spanning the
// remaining width.
func (l Layout) fill(style lipgloss.Style, left, right string) string {
	gap := l.Width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	filler := lipgloss.NewStyle().
		Width(gap).
		Background(style.GetBackground()).
		Render("")
	return lipgloss.JoinHorizontal(lipgloss.Top, left, filler, right)
}

// RenderWithFrame stacks the header, content and status bar.
func (l Layout) RenderWithFrame(header, content, statusBar string) string {
	return lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
}

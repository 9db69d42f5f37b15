package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/auditwatch/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for top-level section headers and the application title.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// NoticeStyle highlights transient messages in the status bar.
var NoticeStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorYellow)

// PanelStyle wraps overlay content such as the help view.
var PanelStyle = lipgloss.NewStyle().
	Padding(1, 2).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// ListItemStyle is the base style for items in a list.
var ListItemStyle = lipgloss.NewStyle().
	PaddingLeft(2)

// UnreadStyle marks unread notification titles.
var UnreadStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite)

// ReadStyle dims notifications the user has seen.
var ReadStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// SelectedItemStyle highlights the currently focused list item.
var SelectedItemStyle = lipgloss.NewStyle().
	PaddingLeft(1).
	Bold(true).
	Foreground(ColorBlue).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(ColorBlue)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// BorderStyle provides a standard rounded border for panels.
var BorderStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// TypeStyle returns a color-coded style for the given notification type.
func TypeStyle(t model.NotificationType) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch t {
	case model.TypeSuccess:
		return base.Foreground(ColorGreen)
	case model.TypeWarning:
		return base.Foreground(ColorOrange)
	case model.TypeError:
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorBlue)
	}
}

// CategoryLabelStyle returns a color-coded style for the given category label.
func CategoryLabelStyle(c model.Category) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch c {
	case model.CategoryMessage:
		return base.Foreground(ColorBlue)
	case model.CategoryAudit:
		return base.Foreground(ColorMagenta)
	case model.CategoryPayment:
		return base.Foreground(ColorGreen)
	default:
		return base.Foreground(ColorGray)
	}
}

// CategoryBadge returns the short label shown for a category.
func CategoryBadge(c model.Category) string {
	switch c {
	case model.CategoryMessage:
		return "MSG"
	case model.CategoryAudit:
		return "AUD"
	case model.CategoryPayment:
		return "PAY"
	default:
		return "SYS"
	}
}

// ConnectionStyle returns the style of the connection indicator.
func ConnectionStyle(s model.ConnectionStatus) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch s {
	case model.ConnectionConnected:
		return base.Foreground(ColorGreen)
	case model.ConnectionDisconnected:
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorYellow)
	}
}

// ChannelStyle returns the style for a realtime channel status.
func ChannelStyle(s model.SubscriptionStatus) lipgloss.Style {
	switch s {
	case model.SubscriptionSubscribed:
		return lipgloss.NewStyle().Foreground(ColorGreen)
	case model.SubscriptionClosed:
		return lipgloss.NewStyle().Foreground(ColorRed)
	default:
		return lipgloss.NewStyle().Foreground(ColorYellow)
	}
}

package model

import "time"

// HistoryCap is the maximum number of notifications kept per user, both
// in memory and in local storage.
const HistoryCap = 50

// NotificationType controls how a notification is presented.
type NotificationType string

const (
	TypeInfo    NotificationType = "info"
	TypeSuccess NotificationType = "success"
	TypeWarning NotificationType = "warning"
	TypeError   NotificationType = "error"
)

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case TypeInfo, TypeSuccess, TypeWarning, TypeError:
		return true
	}
	return false
}

// Category groups notifications by the marketplace feature that
// produced them.
type Category string

const (
	CategoryMessage Category = "message"
	CategoryAudit   Category = "audit"
	CategoryPayment Category = "payment"
	CategorySystem  Category = "system"
)

// Notification represents an alert surfaced to the signed-in user about
// marketplace activity: a new message, an audit status change or a
// payment update.
type Notification struct {
	// ID is unique within a single user's notification set.
	ID string `json:"id"`

	// Title is the short headline shown in lists.
	Title string `json:"title"`

	// Message is the human-readable body text.
	Message string `json:"message"`

	// Type is the presentation severity.
	Type NotificationType `json:"type"`

	// Category identifies the feature that produced this notification.
	Category Category `json:"category"`

	// ActionURL is an optional in-app route the notification links to.
	ActionURL string `json:"action_url,omitempty"`

	// ActionLabel is the optional label for ActionURL.
	ActionLabel string `json:"action_label,omitempty"`

	// Read indicates whether the user has seen this notification.
	Read bool `json:"read"`

	// CreatedAt is when this notification was generated.
	CreatedAt time.Time `json:"created_at"`
}

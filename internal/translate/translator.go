// Package translate turns realtime row changes into user notifications.
package translate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/nhle/auditwatch/internal/model"
)

const paymentCompleted = "completed"

// Translator maps change events to notifications for one user. It has no
// side effects apart from logging dropped events.
type Translator struct {
	userID   string
	log      logrus.FieldLogger
	validate *validator.Validate
	now      func() time.Time
}

// New creates a Translator for the signed-in user.
func New(userID string, log logrus.FieldLogger) *Translator {
	return &Translator{
		userID:   userID,
		log:      log,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Translate returns the notification for ev, or nil when the event is not
// one the user should see. Malformed events are logged and dropped.
func (t *Translator) Translate(ev model.ChangeEvent) *model.Notification {
	decoded, err := Decode(t.validate, ev)
	if err != nil {
		entry := t.log.WithFields(logrus.Fields{"table": ev.Table, "type": ev.Type})
		if errors.Is(err, errUnknownTable) || errors.Is(err, errNotInsert) {
			entry.Debug("ignoring change event")
		} else {
			entry.WithError(err).Warn("dropping malformed change event")
		}
		return nil
	}

	var n *model.Notification
	switch e := decoded.(type) {
	case MessageInserted:
		n = t.message(e.Row)
	case AuditStatusInserted:
		n = t.auditStatus(e.Row)
	case PaymentInserted:
		n = t.payment(e.Row)
	default:
		t.log.WithField("table", ev.Table).Warnf("no translation for %T", decoded)
		return nil
	}
	if n == nil {
		return nil
	}

	n.CreatedAt = ev.CommitTimestamp
	if n.CreatedAt.IsZero() {
		n.CreatedAt = t.now()
	}
	return n
}

func (t *Translator) message(row MessageRow) *model.Notification {
	if string(row.RecipientID) != t.userID {
		t.log.WithField("message", row.ID).Warn("dropping message addressed to another user")
		return nil
	}

	n := &model.Notification{
		ID:          notificationID(model.CategoryMessage, row.ID),
		Title:       "New message",
		Message:     preview(row.Content, 140),
		Type:        model.TypeInfo,
		Category:    model.CategoryMessage,
		ActionURL:   "/messages",
		ActionLabel: "View message",
	}
	if row.AuditRequestID != "" {
		n.ActionURL = "/messages/" + string(row.AuditRequestID)
	}
	return n
}

func (t *Translator) auditStatus(row AuditStatusRow) *model.Notification {
	msg := row.Message
	if msg == "" {
		msg = fmt.Sprintf("Your audit request status has been updated to %s.", row.Status)
	}
	return &model.Notification{
		ID:          notificationID(model.CategoryAudit, row.ID),
		Title:       "Audit status updated",
		Message:     msg,
		Type:        model.TypeInfo,
		Category:    model.CategoryAudit,
		ActionURL:   "/audits/" + string(row.AuditRequestID),
		ActionLabel: "View audit",
	}
}

func (t *Translator) payment(row PaymentRow) *model.Notification {
	typ := model.TypeInfo
	if row.Status == paymentCompleted {
		typ = model.TypeSuccess
	}

	amount := row.Amount.String()
	if row.Currency != "" {
		amount += " " + row.Currency
	}

	n := &model.Notification{
		ID:          notificationID(model.CategoryPayment, row.ID),
		Title:       "Payment " + row.Status,
		Message:     fmt.Sprintf("Payment of %s is %s.", amount, row.Status),
		Type:        typ,
		Category:    model.CategoryPayment,
		ActionURL:   "/escrow",
		ActionLabel: "View payment",
	}
	if row.AuditRequestID != "" {
		n.ActionURL = "/escrow/" + string(row.AuditRequestID)
	}
	return n
}

// notificationID is stable per source row, so a redelivered event replaces
// the earlier notification.
func notificationID(c model.Category, rowID RowID) string {
	return string(c) + "-" + string(rowID)
}

func preview(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

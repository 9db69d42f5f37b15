// Package session wires the notification bridge for one signed-in user:
// realtime channels feed the translator, the translator feeds the
// notification store, and the health monitor watches all of it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nhle/auditwatch/internal/health"
	"github.com/nhle/auditwatch/internal/model"
	"github.com/nhle/auditwatch/internal/notify"
	"github.com/nhle/auditwatch/internal/realtime"
	"github.com/nhle/auditwatch/internal/store"
	"github.com/nhle/auditwatch/internal/translate"
)

// Deps are the collaborators a Session is built from.
type Deps struct {
	History   store.History
	Transport realtime.Transport
	Prober    health.Prober
	Config    model.AppConfig
	Log       logrus.FieldLogger
}

// Session owns the per-user notification store, channel manager and
// health monitor from sign-in to sign-out.
type Session struct {
	userID     string
	log        logrus.FieldLogger
	store      *notify.Store
	translator *translate.Translator
	manager    *realtime.Manager
	monitor    *health.Monitor

	mu     sync.Mutex
	closed bool
}

// Channels returns the channel specs subscribed for userID. Each is
// filtered server side to rows concerning the user.
func Channels(userID string, onEvent realtime.EventFunc) []realtime.ChannelSpec {
	return []realtime.ChannelSpec{
		{
			Name:    "messages:" + userID,
			Table:   translate.TableMessages,
			Filter:  "recipient_id=eq." + userID,
			OnEvent: onEvent,
		},
		{
			Name:    "audit-status:" + userID,
			Table:   translate.TableAuditStatus,
			Filter:  "user_id=eq." + userID,
			OnEvent: onEvent,
		},
		{
			Name:    "payments:" + userID,
			Table:   translate.TablePayments,
			Filter:  "user_id=eq." + userID,
			OnEvent: onEvent,
		},
	}
}

// Open builds and starts a session for userID. History load failures and
// channels that fail to open are logged and reflected in the health
// record rather than returned.
func Open(ctx context.Context, deps Deps, userID string) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("opening session: %w", store.ErrNoUser)
	}

	log := deps.Log.WithField("user", userID)
	s := &Session{
		userID:     userID,
		log:        log,
		store:      notify.New(userID, deps.History, deps.Config.Notifications.HistoryCap, log),
		translator: translate.New(userID, log),
		manager:    realtime.NewManager(deps.Transport, log),
	}
	s.monitor = health.New(
		deps.Prober,
		s.manager,
		deps.Config.Backend.ProbeTable,
		deps.Config.HealthInterval(),
		log,
	)
	s.manager.OnStatus(s.monitor.ObserveChannel)

	if err := s.store.Hydrate(ctx); err != nil {
		log.WithError(err).Warn("starting with empty notification history")
	}

	for _, spec := range Channels(userID, s.handleEvent) {
		if _, err := s.manager.Subscribe(spec); err != nil {
			log.WithError(err).WithField("channel", spec.Name).Warn("channel not opened")
		}
	}

	s.monitor.Start()
	log.Info("session opened")
	return s, nil
}

func (s *Session) handleEvent(ev model.ChangeEvent) {
	n := s.translator.Translate(ev)
	if n == nil {
		return
	}
	s.store.Add(*n)
}

// UserID returns the signed-in user.
func (s *Session) UserID() string {
	return s.userID
}

// Store returns the session's notification store.
func (s *Session) Store() *notify.Store {
	return s.store
}

// Monitor returns the session's health monitor.
func (s *Session) Monitor() *health.Monitor {
	return s.monitor
}

// Manager returns the session's channel manager.
func (s *Session) Manager() *realtime.Manager {
	return s.manager
}

// Notify enqueues a locally generated notification.
func (s *Session) Notify(title, message string, typ model.NotificationType, category model.Category) *notify.Pending {
	return s.store.Add(model.Notification{
		ID:       uuid.NewString(),
		Title:    title,
		Message:  message,
		Type:     typ,
		Category: category,
	})
}

// NotifyAuthChange tells the monitor the auth state changed.
func (s *Session) NotifyAuthChange() {
	s.monitor.NotifyAuthChange()
}

// Reconnect reopens closed channels and re-checks health.
func (s *Session) Reconnect(ctx context.Context) error {
	return s.monitor.Reconnect(ctx)
}

// Close unsubscribes every channel, stops the monitor and flushes the
// store. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.monitor.Stop()

	var errs []error
	if err := s.manager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing channels: %w", err))
	}
	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing notification store: %w", err))
	}

	s.log.Info("session closed")
	return errors.Join(errs...)
}

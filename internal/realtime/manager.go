package realtime

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/auditwatch/internal/model"
)

// ChannelSpec describes one named realtime subscription.
type ChannelSpec struct {
	// Name is the channel name, e.g. "messages:<user>". It identifies the
	// subscription within a Manager.
	Name string

	// Schema defaults to "public".
	Schema string

	// Table is the source table whose row changes are delivered.
	Table string

	// Event defaults to INSERT.
	Event string

	// Filter is a row filter such as "recipient_id=eq.<user>".
	Filter string

	// OnEvent receives the channel's row changes in delivery order.
	OnEvent EventFunc
}

func (s ChannelSpec) withDefaults() ChannelSpec {
	if s.Schema == "" {
		s.Schema = "public"
	}
	if s.Event == "" {
		s.Event = model.EventInsert
	}
	return s
}

func (s ChannelSpec) filters() []ChangeFilter {
	return []ChangeFilter{{
		Event:  s.Event,
		Schema: s.Schema,
		Table:  s.Table,
		Filter: s.Filter,
	}}
}

// Handle is a subscription owned by a Manager. Its mutable state is
// read through the Manager.
type Handle struct {
	spec ChannelSpec

	status       model.SubscriptionStatus
	lastActivity time.Time
	gen          uint64
	ch           Channel
}

// Name returns the channel name.
func (h *Handle) Name() string {
	return h.spec.Name
}

// Spec returns the spec the handle was opened with.
func (h *Handle) Spec() ChannelSpec {
	return h.spec
}

// StatusEvent describes a subscription status transition.
type StatusEvent struct {
	Channel string
	From    model.SubscriptionStatus
	To      model.SubscriptionStatus

	// Remote is set when the transition was not requested locally: a
	// closure by the multiplexer, a rejected join or a lost connection.
	Remote bool

	Err error
	At  time.Time
}

// Manager opens and tracks named realtime subscriptions. There is at most
// one live handle per channel name. Closed channels are never retried
// automatically; callers reopen them with Reconnect.
type Manager struct {
	transport Transport
	log       logrus.FieldLogger
	now       func() time.Time

	mu        sync.Mutex
	handles   map[string]*Handle
	listeners []func(StatusEvent)
	closed    bool
}

// NewManager creates a Manager that opens channels on t.
func NewManager(t Transport, log logrus.FieldLogger) *Manager {
	return &Manager{
		transport: t,
		log:       log,
		now:       time.Now,
		handles:   make(map[string]*Handle),
	}
}

// OnStatus registers fn to receive every status transition.
func (m *Manager) OnStatus(fn func(StatusEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Subscribe opens the channel described by spec. If a handle for the
// channel exists and is not closed it is returned unchanged. A closed
// handle is reopened. When the transport fails the handle is returned in
// the closed state together with the error.
func (m *Manager) Subscribe(spec ChannelSpec) (*Handle, error) {
	if spec.Name == "" || spec.Table == "" {
		return nil, fmt.Errorf("subscribing: channel name and table are required")
	}
	spec = spec.withDefaults()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	h, ok := m.handles[spec.Name]
	if ok && h.status != model.SubscriptionClosed {
		m.mu.Unlock()
		m.log.WithField("channel", spec.Name).Debug("channel already open")
		return h, nil
	}
	if !ok {
		h = &Handle{spec: spec, status: model.SubscriptionIdle}
		m.handles[spec.Name] = h
	}
	gen, ev := m.beginOpenLocked(h)
	m.mu.Unlock()

	m.emit(ev)
	if err := m.open(h, gen); err != nil {
		return h, err
	}
	return h, nil
}

// beginOpenLocked moves h to subscribing under a new generation. Doing so
// under the lock that observed the handle closed keeps concurrent
// Subscribe calls from opening it twice. m.mu must be held.
func (m *Manager) beginOpenLocked(h *Handle) (uint64, StatusEvent) {
	h.gen++
	return h.gen, m.setStatusLocked(h, model.SubscriptionSubscribing, false, nil)
}

// open asks the transport for h's channel under generation gen.
func (m *Manager) open(h *Handle, gen uint64) error {
	spec := h.spec

	ch, err := m.transport.Subscribe(
		spec.Name,
		spec.filters(),
		m.eventFunc(h, gen),
		m.stateFunc(h, gen),
	)
	if err != nil {
		err = fmt.Errorf("subscribing to %s: %w", spec.Name, err)
		m.transition(h, gen, model.SubscriptionClosed, true, err)
		return err
	}

	m.mu.Lock()
	if h.gen != gen {
		// Torn down while the join was in flight.
		m.mu.Unlock()
		if err := ch.Unsubscribe(); err != nil {
			m.log.WithError(err).WithField("channel", spec.Name).Warn("leaving stale channel")
		}
		return nil
	}
	h.ch = ch
	m.mu.Unlock()
	return nil
}

func (m *Manager) eventFunc(h *Handle, gen uint64) EventFunc {
	return func(ev model.ChangeEvent) {
		m.mu.Lock()
		if h.gen != gen {
			m.mu.Unlock()
			return
		}
		h.lastActivity = m.now()
		onEvent := h.spec.OnEvent
		m.mu.Unlock()

		if onEvent != nil {
			onEvent(ev)
		}
	}
}

func (m *Manager) stateFunc(h *Handle, gen uint64) StateFunc {
	return func(state ChannelState, err error) {
		switch state {
		case ChannelJoined:
			m.transition(h, gen, model.SubscriptionSubscribed, true, nil)
		case ChannelClosed:
			m.transition(h, gen, model.SubscriptionClosed, true, err)
		}
	}
}

// transition applies an asynchronous status change if gen is still the
// handle's current generation.
func (m *Manager) transition(h *Handle, gen uint64, to model.SubscriptionStatus, remote bool, err error) {
	m.mu.Lock()
	if h.gen != gen || h.status == to {
		m.mu.Unlock()
		return
	}
	if to == model.SubscriptionClosed {
		h.ch = nil
	}
	ev := m.setStatusLocked(h, to, remote, err)
	m.mu.Unlock()

	m.emit(ev)
}

// setStatusLocked records the new status and returns the event to emit
// once the lock is released. m.mu must be held.
func (m *Manager) setStatusLocked(h *Handle, to model.SubscriptionStatus, remote bool, err error) StatusEvent {
	ev := StatusEvent{
		Channel: h.spec.Name,
		From:    h.status,
		To:      to,
		Remote:  remote,
		Err:     err,
		At:      m.now(),
	}
	h.status = to
	h.lastActivity = ev.At
	return ev
}

func (m *Manager) emit(ev StatusEvent) {
	entry := m.log.WithFields(logrus.Fields{
		"channel": ev.Channel,
		"from":    ev.From,
		"to":      ev.To,
	})
	if ev.Err != nil {
		entry.WithError(ev.Err).Warn("channel status changed")
	} else {
		entry.Info("channel status changed")
	}

	m.mu.Lock()
	listeners := append([]func(StatusEvent){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// Unsubscribe leaves the channel and forgets the handle.
func (m *Manager) Unsubscribe(h *Handle) error {
	m.mu.Lock()
	if m.handles[h.spec.Name] != h {
		m.mu.Unlock()
		return ErrUnknownHandle
	}
	delete(m.handles, h.spec.Name)
	ch, ev, changed := m.teardownLocked(h)
	m.mu.Unlock()

	if changed {
		m.emit(ev)
	}
	if ch != nil {
		if err := ch.Unsubscribe(); err != nil {
			return fmt.Errorf("unsubscribing %s: %w", h.spec.Name, err)
		}
	}
	return nil
}

// teardownLocked invalidates the handle's current generation and marks it
// closed. m.mu must be held.
func (m *Manager) teardownLocked(h *Handle) (Channel, StatusEvent, bool) {
	h.gen++
	ch := h.ch
	h.ch = nil
	if h.status == model.SubscriptionClosed {
		return ch, StatusEvent{}, false
	}
	return ch, m.setStatusLocked(h, model.SubscriptionClosed, false, nil), true
}

// Status returns the handle's current status.
func (m *Manager) Status(h *Handle) model.SubscriptionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return h.status
}

// LastActivity returns when the handle last changed status or received an
// event.
func (m *Manager) LastActivity(h *Handle) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return h.lastActivity
}

// Reconnect tears down the handle's channel and opens it again. Callbacks
// still arriving from the old channel are ignored.
func (m *Manager) Reconnect(h *Handle) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.handles[h.spec.Name] != h {
		m.mu.Unlock()
		return ErrUnknownHandle
	}
	ch, closed, changed := m.teardownLocked(h)
	gen, opening := m.beginOpenLocked(h)
	m.mu.Unlock()

	if changed {
		m.emit(closed)
	}
	if ch != nil {
		if err := ch.Unsubscribe(); err != nil {
			m.log.WithError(err).WithField("channel", h.spec.Name).Warn("leaving channel before reconnect")
		}
	}

	m.log.WithField("channel", h.spec.Name).Info("reconnecting channel")
	m.emit(opening)
	return m.open(h, gen)
}

// ReconnectClosed reopens every closed handle and returns how many were
// reopened without error.
func (m *Manager) ReconnectClosed() (int, error) {
	var closed []*Handle
	for _, h := range m.Handles() {
		if m.Status(h) == model.SubscriptionClosed {
			closed = append(closed, h)
		}
	}

	var (
		n    int
		errs []error
	)
	for _, h := range closed {
		if err := m.Reconnect(h); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Handles returns the live handles ordered by channel name.
func (m *Manager) Handles() []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool {
		return handles[i].spec.Name < handles[j].spec.Name
	})
	return handles
}

// Statuses returns the current status of every live channel by name.
func (m *Manager) Statuses() map[string]model.SubscriptionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]model.SubscriptionStatus, len(m.handles))
	for name, h := range m.handles {
		out[name] = h.status
	}
	return out
}

// Close unsubscribes every channel. Further Subscribe and Reconnect calls
// return ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	var (
		channels []Channel
		names    []string
		events   []StatusEvent
	)
	for name, h := range m.handles {
		ch, ev, changed := m.teardownLocked(h)
		if ch != nil {
			channels = append(channels, ch)
			names = append(names, name)
		}
		if changed {
			events = append(events, ev)
		}
	}
	m.handles = make(map[string]*Handle)
	m.mu.Unlock()

	for _, ev := range events {
		m.emit(ev)
	}

	var errs []error
	for i, ch := range channels {
		if err := ch.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribing %s: %w", names[i], err))
		}
	}
	return errors.Join(errs...)
}

// Package health tracks backend reachability and session validity for the
// signed-in user.
package health

import (
	"context"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/nhle/auditwatch/internal/model"
	"github.com/nhle/auditwatch/internal/realtime"
)

// DefaultInterval is the time between periodic checks.
const DefaultInterval = 5 * time.Minute

// probeTimeout is the maximum time allowed for a single check.
const probeTimeout = 20 * time.Second

// Prober performs the round trips behind a check. *backend.Client
// implements it.
type Prober interface {
	Probe(ctx context.Context, table string) (time.Duration, error)
	CheckAuth(ctx context.Context) (bool, error)
}

// Reconnector reopens closed realtime channels. *realtime.Manager
// implements it.
type Reconnector interface {
	ReconnectClosed() (int, error)
}

// UpdateMsg is a tea.Msg carrying the health record after a change.
type UpdateMsg struct {
	Record model.HealthRecord
}

// Monitor probes the backend on a fixed interval and whenever the auth
// state changes. Failures are counted, never retried: reconnecting is an
// explicit Reconnect call.
type Monitor struct {
	prober      Prober
	reconnector Reconnector
	table       string
	interval    time.Duration
	log         logrus.FieldLogger
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	record model.HealthRecord

	// auth is the last settled auth status, restored when an auth check
	// fails without an answer.
	auth      model.AuthStatus
	gen       uint64
	running   bool
	stopped   bool
	triggerCh chan struct{}
	stopCh    chan struct{}
	updateCh  chan model.HealthRecord
}

// New creates a Monitor that probes table through p. interval <= 0 uses
// DefaultInterval.
func New(p Prober, r Reconnector, table string, interval time.Duration, log logrus.FieldLogger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		prober:      p,
		reconnector: r,
		table:       table,
		interval:    interval,
		log:         log,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		record: model.HealthRecord{
			Connection: model.ConnectionChecking,
			Auth:       model.AuthChecking,
			Channels:   make(map[string]model.SubscriptionStatus),
		},
		auth:      model.AuthChecking,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		updateCh:  make(chan model.HealthRecord, 1),
	}
}

// Start runs an immediate check and then one every interval until Stop.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running || m.stopped {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go m.loop()
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(m.ctx)

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Check(m.ctx)
		case <-m.triggerCh:
			m.Check(m.ctx)
		}
	}
}

// Stop halts the periodic checks. Results of checks still in flight are
// discarded. Stop is idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	m.stopped = true
	m.gen++
	m.cancel()
	close(m.stopCh)
	close(m.updateCh)
}

// NotifyAuthChange schedules a check. It never blocks; a check already
// pending absorbs the request.
func (m *Monitor) NotifyAuthChange() {
	select {
	case m.triggerCh <- struct{}{}:
	default:
	}
}

// Check probes the backend and the auth session and updates both axes
// independently. Both axes read checking while the probes are in flight.
// It returns the resulting record.
func (m *Monitor) Check(ctx context.Context) model.HealthRecord {
	m.mu.Lock()
	if m.stopped {
		rec := m.copyLocked()
		m.mu.Unlock()
		return rec
	}
	gen := m.gen
	m.record.Connection = model.ConnectionChecking
	m.record.Auth = model.AuthChecking
	m.publishLocked()
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	rtt, probeErr := m.prober.Probe(ctx, m.table)
	authed, authErr := m.prober.CheckAuth(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen {
		m.log.Debug("discarding health check result after stop")
		return m.copyLocked()
	}

	if now := m.now(); now.After(m.record.LastChecked) {
		m.record.LastChecked = now
	}

	if probeErr != nil {
		m.record.ErrorCount++
		m.record.Connection = model.ConnectionDisconnected
		m.log.WithError(probeErr).WithField("errors", m.record.ErrorCount).Warn("backend probe failed")
	} else {
		m.record.Connection = model.ConnectionConnected
		m.record.LastRTT = rtt
	}

	switch {
	case authErr != nil:
		m.log.WithError(authErr).Warn("auth check failed")
	case authed:
		m.auth = model.AuthAuthenticated
	default:
		m.auth = model.AuthUnauthenticated
	}
	m.record.Auth = m.auth

	m.publishLocked()
	return m.copyLocked()
}

// ObserveChannel records a realtime channel transition. A channel closed
// by the remote side counts as an error.
func (m *Monitor) ObserveChannel(ev realtime.StatusEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}

	m.record.Channels[ev.Channel] = ev.To
	if ev.Remote && ev.To == model.SubscriptionClosed {
		m.record.ErrorCount++
	}
	m.publishLocked()
}

// Reconnect reopens every closed channel and then runs a check. The
// reconnect error, if any, is returned after the check.
func (m *Monitor) Reconnect(ctx context.Context) error {
	var err error
	if m.reconnector != nil {
		var n int
		n, err = m.reconnector.ReconnectClosed()
		entry := m.log.WithField("channels", n)
		if err != nil {
			entry.WithError(err).Warn("reconnect incomplete")
		} else {
			entry.Info("reconnected channels")
		}
	}
	m.Check(ctx)
	return err
}

// Reset clears the error count.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.record.ErrorCount = 0
	m.publishLocked()
}

// Record returns a copy of the current health record.
func (m *Monitor) Record() model.HealthRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyLocked()
}

// IsHealthy reports whether the backend is connected and no error has
// been recorded since the last Reset.
func (m *Monitor) IsHealthy() bool {
	return m.Record().Healthy()
}

// WaitForUpdate returns a tea.Cmd that waits for the next record change.
// Call it again after handling each UpdateMsg. It yields nil after Stop.
func (m *Monitor) WaitForUpdate() tea.Cmd {
	return func() tea.Msg {
		rec, ok := <-m.updateCh
		if !ok {
			return nil
		}
		return UpdateMsg{Record: rec}
	}
}

func (m *Monitor) copyLocked() model.HealthRecord {
	rec := m.record
	rec.Channels = make(map[string]model.SubscriptionStatus, len(m.record.Channels))
	for k, v := range m.record.Channels {
		rec.Channels[k] = v
	}
	return rec
}

// publishLocked replaces any unread update with the current record.
func (m *Monitor) publishLocked() {
	select {
	case <-m.updateCh:
	default:
	}
	select {
	case m.updateCh <- m.copyLocked():
	default:
	}
}

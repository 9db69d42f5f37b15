// Package notify holds the in-memory notification list of a session and
// writes every change through to the local history store.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nhle/auditwatch/internal/model"
	"github.com/nhle/auditwatch/internal/store"
)

// ErrClosed is returned for writes requested after Close.
var ErrClosed = errors.New("notification store closed")

// writeTimeout bounds a single persistence write.
const writeTimeout = 10 * time.Second

type opKind int

const (
	opSave opKind = iota
	opClear
	opBarrier
)

type write struct {
	op       opKind
	snapshot []model.Notification
	pending  *Pending
}

// Store is the notification list of one signed-in user, ordered
// most-recent-first and bounded by a cap. Mutations are applied in memory
// immediately and persisted in call order by a single writer goroutine.
type Store struct {
	userID  string
	history store.History
	log     logrus.FieldLogger
	cap     int
	now     func() time.Time

	mu       sync.Mutex
	items    []model.Notification
	watchers map[chan []model.Notification]struct{}
	closed   bool

	qmu   sync.Mutex
	queue []write
	wake  chan struct{}
	stop  chan struct{}
	exit  chan struct{}
}

// New creates a Store for userID and starts its writer. limit is clamped to
// model.HistoryCap.
func New(userID string, history store.History, limit int, log logrus.FieldLogger) *Store {
	if limit <= 0 || limit > model.HistoryCap {
		limit = model.HistoryCap
	}
	s := &Store{
		userID:   userID,
		history:  history,
		log:      log.WithField("user", userID),
		cap:      limit,
		now:      time.Now,
		watchers: make(map[chan []model.Notification]struct{}),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		exit:     make(chan struct{}),
	}
	go s.writer()
	return s
}

// UserID returns the owner of the list.
func (s *Store) UserID() string {
	return s.userID
}

// Hydrate loads the persisted history as the initial list. Entries added
// before Hydrate stay in front; stored entries with the same ID are
// skipped.
func (s *Store) Hydrate(ctx context.Context) error {
	loaded, err := s.history.Load(ctx, s.userID)
	if err != nil {
		return fmt.Errorf("loading notification history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	seen := make(map[string]bool, len(s.items))
	for _, n := range s.items {
		seen[n.ID] = true
	}
	merged := append([]model.Notification{}, s.items...)
	for _, n := range loaded {
		if !seen[n.ID] {
			merged = append(merged, n)
		}
	}
	if len(merged) > s.cap {
		merged = merged[:s.cap]
	}
	s.items = merged
	s.log.WithField("count", len(loaded)).Debug("hydrated notification history")
	s.broadcastLocked()
	return nil
}

// Add inserts n at the head of the list. An entry with the same ID is
// replaced in place, keeping its position, creation time and read flag.
// Entries beyond the cap are evicted from the tail.
func (s *Store) Add(n model.Notification) *Pending {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if !n.Type.Valid() {
		n.Type = model.TypeInfo
	}
	if n.Category == "" {
		n.Category = model.CategorySystem
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return settled(ErrClosed)
	}

	if i := s.indexLocked(n.ID); i >= 0 {
		old := s.items[i]
		n.CreatedAt = old.CreatedAt
		n.Read = n.Read || old.Read
		s.items[i] = n
		return s.commitLocked(opSave)
	}

	if len(s.items) > 0 && n.CreatedAt.Before(s.items[0].CreatedAt) {
		n.CreatedAt = s.items[0].CreatedAt
	}

	items := make([]model.Notification, 0, len(s.items)+1)
	items = append(items, n)
	items = append(items, s.items...)
	if len(items) > s.cap {
		items = items[:s.cap]
	}
	s.items = items
	return s.commitLocked(opSave)
}

// MarkRead sets the read flag of the notification with id. Unknown or
// already read IDs are a no-op.
func (s *Store) MarkRead(id string) *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return settled(ErrClosed)
	}

	i := s.indexLocked(id)
	if i < 0 || s.items[i].Read {
		return settled(nil)
	}
	s.items[i].Read = true
	return s.commitLocked(opSave)
}

// MarkAllRead sets the read flag on every notification.
func (s *Store) MarkAllRead() *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return settled(ErrClosed)
	}

	changed := false
	for i := range s.items {
		if !s.items[i].Read {
			s.items[i].Read = true
			changed = true
		}
	}
	if !changed {
		return settled(nil)
	}
	return s.commitLocked(opSave)
}

// Remove deletes the notification with id. Unknown IDs are a no-op.
func (s *Store) Remove(id string) *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return settled(ErrClosed)
	}

	i := s.indexLocked(id)
	if i < 0 {
		return settled(nil)
	}
	items := make([]model.Notification, 0, len(s.items)-1)
	items = append(items, s.items[:i]...)
	items = append(items, s.items[i+1:]...)
	s.items = items
	return s.commitLocked(opSave)
}

// Clear empties the list and erases the persisted history.
func (s *Store) Clear() *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return settled(ErrClosed)
	}

	s.items = nil
	return s.commitLocked(opClear)
}

// List returns a copy of the notifications, most recent first.
func (s *Store) List() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Len returns the number of notifications.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// UnreadCount returns the number of unread notifications.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, item := range s.items {
		if !item.Read {
			n++
		}
	}
	return n
}

// Watch returns a channel that receives a snapshot of the list after
// every change, starting with the current one. Snapshots are coalesced: a
// slow reader only sees the latest. cancel stops delivery and closes the
// channel; Close does the same for every watcher.
func (s *Store) Watch() (<-chan []model.Notification, func()) {
	ch := make(chan []model.Notification, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.watchers[ch] = struct{}{}
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watchers[ch]; ok {
			delete(s.watchers, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Flush waits until every write queued before the call has completed.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	p := s.enqueueLocked(write{op: opBarrier})
	s.mu.Unlock()

	return p.Wait(ctx)
}

// Close flushes pending writes, stops the writer and closes all watchers.
// Later mutations return ErrClosed. Close is idempotent.
func (s *Store) Close(ctx context.Context) error {
	flushErr := s.Flush(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for ch := range s.watchers {
		delete(s.watchers, ch)
		close(ch)
	}
	s.mu.Unlock()

	close(s.stop)
	select {
	case <-s.exit:
	case <-ctx.Done():
		return ctx.Err()
	}
	return flushErr
}

func (s *Store) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) snapshotLocked() []model.Notification {
	out := make([]model.Notification, len(s.items))
	copy(out, s.items)
	return out
}

// commitLocked publishes the current list to watchers and queues its
// persistence. s.mu must be held so queue order matches mutation order.
func (s *Store) commitLocked(op opKind) *Pending {
	s.broadcastLocked()
	w := write{op: op}
	if op == opSave {
		w.snapshot = s.snapshotLocked()
	}
	return s.enqueueLocked(w)
}

func (s *Store) broadcastLocked() {
	if len(s.watchers) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (s *Store) enqueueLocked(w write) *Pending {
	w.pending = newPending()

	s.qmu.Lock()
	s.queue = append(s.queue, w)
	s.qmu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return w.pending
}

// writer applies queued writes in order. Consecutive saves collapse into
// the last one since each carries the full list.
func (s *Store) writer() {
	defer close(s.exit)

	for {
		select {
		case <-s.stop:
			s.drain()
			return
		case <-s.wake:
			s.drain()
		}
	}
}

func (s *Store) drain() {
	for {
		s.qmu.Lock()
		batch := s.queue
		s.queue = nil
		s.qmu.Unlock()

		if len(batch) == 0 {
			return
		}

		var waiting []*Pending
		for i, w := range batch {
			waiting = append(waiting, w.pending)
			if w.op == opSave && i+1 < len(batch) && batch[i+1].op == opSave {
				continue
			}
			err := s.apply(w)
			for _, p := range waiting {
				p.finish(err)
			}
			waiting = waiting[:0]
		}
	}
}

func (s *Store) apply(w write) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch w.op {
	case opSave:
		err = s.history.Save(ctx, s.userID, w.snapshot)
	case opClear:
		err = s.history.Clear(ctx, s.userID)
	case opBarrier:
		return nil
	}
	if err != nil {
		s.log.WithError(err).Warn("persisting notifications")
	}
	return err
}

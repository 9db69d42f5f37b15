package notify_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/auditwatch/internal/logging"
	"github.com/nhle/auditwatch/internal/model"
	"github.com/nhle/auditwatch/internal/notify"
	"github.com/nhle/auditwatch/internal/store"
	"github.com/nhle/auditwatch/tests/testutil"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T, h store.History, userID string) *notify.Store {
	t.Helper()
	s := notify.New(userID, h, 0, logging.Discard())
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func note(i int) model.Notification {
	return model.Notification{
		ID:        fmt.Sprintf("n-%03d", i),
		Title:     fmt.Sprintf("Notification %d", i),
		Message:   "body",
		Type:      model.TypeInfo,
		Category:  model.CategoryMessage,
		CreatedAt: base.Add(time.Duration(i) * time.Second),
	}
}

func ids(ns []model.Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

func TestStore_AddEvictsOldest(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestStore(t)
	s := newStore(t, h, "user-1")

	for i := 0; i < 60; i++ {
		s.Add(note(i))
		assert.LessOrEqual(t, s.Len(), model.HistoryCap)
	}

	list := s.List()
	require.Len(t, list, model.HistoryCap)
	assert.Equal(t, "n-059", list[0].ID)
	assert.Equal(t, "n-010", list[len(list)-1].ID)
	for i := 1; i < len(list); i++ {
		assert.False(t, list[i].CreatedAt.After(list[i-1].CreatedAt), "most recent first")
	}

	require.NoError(t, s.Flush(ctx))
	stored, err := h.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, ids(list), ids(stored))
}

func TestStore_AddReplacesDuplicateInPlace(t *testing.T) {
	s := newStore(t, testutil.NewTestStore(t), "user-1")

	s.Add(note(1))
	s.Add(note(2))
	s.Add(note(3))
	s.MarkRead("n-002")

	updated := note(2)
	updated.Message = "edited"
	updated.CreatedAt = base.Add(time.Hour)
	s.Add(updated)

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"n-003", "n-002", "n-001"}, ids(list))
	assert.Equal(t, "edited", list[1].Message)
	assert.True(t, list[1].Read)
	assert.Equal(t, note(2).CreatedAt, list[1].CreatedAt)
}

func TestStore_AddClampsCreatedAt(t *testing.T) {
	s := newStore(t, testutil.NewTestStore(t), "user-1")

	s.Add(note(10))
	s.Add(note(5))

	list := s.List()
	assert.Equal(t, "n-005", list[0].ID)
	assert.Equal(t, note(10).CreatedAt, list[0].CreatedAt)
}

func TestStore_AddFillsDefaults(t *testing.T) {
	s := newStore(t, testutil.NewTestStore(t), "user-1")

	s.Add(model.Notification{Title: "Signed in", Type: "bogus"})

	list := s.List()
	require.Len(t, list, 1)
	assert.NotEmpty(t, list[0].ID)
	assert.Equal(t, model.TypeInfo, list[0].Type)
	assert.Equal(t, model.CategorySystem, list[0].Category)
	assert.False(t, list[0].CreatedAt.IsZero())
}

func TestStore_ReadState(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestStore(t)
	s := newStore(t, h, "user-1")

	s.Add(note(1))
	s.Add(note(2))
	s.Add(note(3))
	assert.Equal(t, 3, s.UnreadCount())

	require.NoError(t, s.MarkRead("n-002").Wait(ctx))
	assert.Equal(t, 2, s.UnreadCount())

	require.NoError(t, s.MarkRead("missing").Wait(ctx))
	assert.Equal(t, 2, s.UnreadCount())

	require.NoError(t, s.MarkAllRead().Wait(ctx))
	assert.Zero(t, s.UnreadCount())

	stored, err := h.Load(ctx, "user-1")
	require.NoError(t, err)
	for _, n := range stored {
		assert.True(t, n.Read, n.ID)
	}
}

func TestStore_Remove(t *testing.T) {
	s := newStore(t, testutil.NewTestStore(t), "user-1")

	s.Add(note(1))
	s.Add(note(2))
	s.Remove("n-001")
	s.Remove("missing")

	assert.Equal(t, []string{"n-002"}, ids(s.List()))
}

func TestStore_ClearErasesPersistedList(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestStore(t)
	s := newStore(t, h, "user-1")

	s.Add(note(1))
	s.Add(note(2))
	require.NoError(t, s.Flush(ctx))

	require.NoError(t, s.Clear().Wait(ctx))
	assert.Empty(t, s.List())

	stored, err := h.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestStore_HydrateRestoresHistory(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestStore(t)
	saved := testutil.Notifications(3, base)
	saved[1].Read = true
	require.NoError(t, h.Save(ctx, "user-1", saved))

	s := newStore(t, h, "user-1")
	require.NoError(t, s.Hydrate(ctx))

	list := s.List()
	require.Len(t, list, 3)
	for i := range saved {
		assert.Equal(t, saved[i].ID, list[i].ID)
		assert.Equal(t, saved[i].Read, list[i].Read)
		assert.True(t, saved[i].CreatedAt.Equal(list[i].CreatedAt))
	}
}

func TestStore_HydrateIsolatesUsers(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestStore(t)

	a := newStore(t, h, "user-a")
	a.Add(note(1))
	a.Add(note(2))
	a.Add(note(3))
	require.NoError(t, a.Close(ctx))

	b := newStore(t, h, "user-b")
	require.NoError(t, b.Hydrate(ctx))
	assert.Empty(t, b.List())

	again := newStore(t, h, "user-a")
	require.NoError(t, again.Hydrate(ctx))
	assert.Len(t, again.List(), 3)
}

func TestStore_HydrateKeepsEarlierAdds(t *testing.T) {
	ctx := context.Background()
	h := &recordingHistory{stored: []model.Notification{note(1), note(2)}}

	s := newStore(t, h, "user-1")
	s.Add(note(5))
	s.Add(note(2))
	require.NoError(t, s.Hydrate(ctx))

	assert.Equal(t, []string{"n-002", "n-005", "n-001"}, ids(s.List()))
}

func TestStore_Watch(t *testing.T) {
	s := newStore(t, testutil.NewTestStore(t), "user-1")
	s.Add(note(1))

	ch, cancel := s.Watch()
	first := <-ch
	assert.Equal(t, []string{"n-001"}, ids(first))

	s.Add(note(2))
	s.Add(note(3))

	// Coalesced: only the latest snapshot is pending.
	latest := <-ch
	assert.Equal(t, []string{"n-003", "n-002", "n-001"}, ids(latest))

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

type failingHistory struct {
	store.History
	mu    sync.Mutex
	saves int
}

func (f *failingHistory) Save(context.Context, string, []model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return errors.New("disk full")
}

func TestStore_WriteFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, &failingHistory{}, "user-1")

	err := s.Add(note(1)).Wait(ctx)
	assert.EqualError(t, err, "disk full")
	assert.Len(t, s.List(), 1)
}

// recordingHistory logs writes and always loads the same list.
type recordingHistory struct {
	mu     sync.Mutex
	ops    []string
	stored []model.Notification
}

func (r *recordingHistory) Save(_ context.Context, _ string, ns []model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, fmt.Sprintf("save:%d", len(ns)))
	return nil
}

func (r *recordingHistory) Load(context.Context, string) ([]model.Notification, error) {
	return append([]model.Notification{}, r.stored...), nil
}

func (r *recordingHistory) Clear(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "clear")
	return nil
}

func TestStore_WritesApplyInCallOrder(t *testing.T) {
	ctx := context.Background()
	h := &recordingHistory{}
	s := newStore(t, h, "user-1")

	p1 := s.Add(note(1))
	s.Clear()
	p3 := s.Add(note(2))
	require.NoError(t, s.Flush(ctx))

	assert.NoError(t, p1.Err())
	assert.NoError(t, p3.Err())
	select {
	case <-p1.Done():
	default:
		t.Fatal("first write not settled after Flush")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.ops)
	assert.Equal(t, "save:1", h.ops[len(h.ops)-1])
	assert.Contains(t, h.ops, "clear")
}

func TestStore_Close(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestStore(t)
	s := notify.New("user-1", h, 0, logging.Discard())

	ch, _ := s.Watch()
	<-ch
	s.Add(note(1))

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	stored, err := h.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, stored, 1, "Close flushes queued writes")

	assert.ErrorIs(t, s.Add(note(2)).Wait(ctx), notify.ErrClosed)

	// Drain the last snapshot, then the channel is closed.
	for range ch {
	}
}

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/auditwatch/internal/model"
	"github.com/nhle/auditwatch/internal/store"
	"github.com/nhle/auditwatch/tests/testutil"
)

func TestSQLiteStore_SaveLoadRoundTrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	saved := []model.Notification{
		{
			ID:          "message-42",
			Title:       "New message",
			Message:     "Can you look at the reentrancy finding?",
			Type:        model.TypeInfo,
			Category:    model.CategoryMessage,
			ActionURL:   "/messages?audit=7",
			ActionLabel: "View message",
			CreatedAt:   base,
		},
		{
			ID:        "payment-9",
			Title:     "Payment completed",
			Message:   "Escrow released",
			Type:      model.TypeSuccess,
			Category:  model.CategoryPayment,
			Read:      true,
			CreatedAt: base.Add(-time.Minute),
		},
	}

	require.NoError(t, s.Save(ctx, "user-a", saved))

	loaded, err := s.Load(ctx, "user-a")
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	for i := range saved {
		assert.Equal(t, saved[i].ID, loaded[i].ID)
		assert.Equal(t, saved[i].Title, loaded[i].Title)
		assert.Equal(t, saved[i].Message, loaded[i].Message)
		assert.Equal(t, saved[i].Type, loaded[i].Type)
		assert.Equal(t, saved[i].Category, loaded[i].Category)
		assert.Equal(t, saved[i].Read, loaded[i].Read)
		assert.Equal(t, saved[i].ActionURL, loaded[i].ActionURL)
		assert.True(t, saved[i].CreatedAt.Equal(loaded[i].CreatedAt),
			"timestamp %d: want %v got %v", i, saved[i].CreatedAt, loaded[i].CreatedAt)
	}
}

func TestSQLiteStore_SaveTruncatesToCap(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	all := testutil.Notifications(70, time.Now().UTC())
	require.NoError(t, s.Save(ctx, "user-a", all))

	loaded, err := s.Load(ctx, "user-a")
	require.NoError(t, err)
	require.Len(t, loaded, model.HistoryCap)
	assert.Equal(t, all[0].ID, loaded[0].ID)
	assert.Equal(t, all[model.HistoryCap-1].ID, loaded[model.HistoryCap-1].ID)
}

func TestSQLiteStore_NamespacesByUser(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "user-a", testutil.Notifications(3, time.Now())))

	loaded, err := s.Load(ctx, "user-b")
	require.NoError(t, err)
	assert.Empty(t, loaded)

	loaded, err = s.Load(ctx, "user-a")
	require.NoError(t, err)
	assert.Len(t, loaded, 3)
}

func TestSQLiteStore_Clear(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "user-a", testutil.Notifications(5, time.Now())))
	require.NoError(t, s.Save(ctx, "user-b", testutil.Notifications(2, time.Now())))
	require.NoError(t, s.Clear(ctx, "user-a"))

	loaded, err := s.Load(ctx, "user-a")
	require.NoError(t, err)
	assert.Empty(t, loaded)

	loaded, err = s.Load(ctx, "user-b")
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestSQLiteStore_RequiresUser(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.Save(ctx, "", nil), store.ErrNoUser)
	_, err := s.Load(ctx, "")
	assert.ErrorIs(t, err, store.ErrNoUser)
	assert.ErrorIs(t, s.Clear(ctx, ""), store.ErrNoUser)
}

func TestStorageKey(t *testing.T) {
	assert.Equal(t, "notifications_8f14e45f", store.StorageKey("8f14e45f"))
}

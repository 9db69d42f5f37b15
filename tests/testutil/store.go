package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/nhle/auditwatch/internal/logging"
	"github.com/nhle/auditwatch/internal/model"
	"github.com/nhle/auditwatch/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:", logging.Discard())
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// Notifications builds n distinct notifications ordered most-recent-first,
// one second apart, ending at base.
func Notifications(n int, base time.Time) []model.Notification {
	out := make([]model.Notification, n)
	for i := 0; i < n; i++ {
		out[i] = model.Notification{
			ID:        fmt.Sprintf("n-%03d", n-1-i),
			Title:     fmt.Sprintf("Notification %d", n-1-i),
			Message:   "body",
			Type:      model.TypeInfo,
			Category:  model.CategorySystem,
			CreatedAt: base.Add(-time.Duration(i) * time.Second),
		}
	}
	return out
}

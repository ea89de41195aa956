// Package testutil provides shared fixtures for milo tests: an isolated
// ledger database and a fluent builder for chat messages.
package testutil

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Veraticus/milo/internal/model"
	"github.com/Veraticus/milo/internal/service"
	"github.com/Veraticus/milo/internal/storage"
)

// TestDB wraps an in-memory ledger with a deterministic clock.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a migrated in-memory database. Each write observes a
// timestamp one second after the previous one, so creation order is stable.
//
// Example:
//
//	db := testutil.SetupTestDB(t)
//	cp, err := db.Storage.CreateCheckpoint(ctx, service.ScopePerChannel, "chan", testutil.Marker(1))
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	store.SetClock(func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Second)
	})

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{Storage: store, t: t}
}

// MustStartCheckpoint opens a checkpoint in channelID or fails the test.
func (db *TestDB) MustStartCheckpoint(channelID string, start model.Marker) *model.Checkpoint {
	db.t.Helper()

	cp, err := db.Storage.CreateCheckpoint(context.Background(), service.ScopePerChannel, channelID, start)
	if err != nil {
		db.t.Fatalf("failed to start checkpoint: %v", err)
	}
	return cp
}

// MustListReceipts returns every receipt in a checkpoint or fails the test.
func (db *TestDB) MustListReceipts(checkpointID int64) []model.Receipt {
	db.t.Helper()

	receipts, err := db.Storage.ListReceipts(context.Background(), checkpointID)
	if err != nil {
		db.t.Fatalf("failed to list receipts: %v", err)
	}
	return receipts
}

// Marker returns the nth test marker. Larger n sorts later.
func Marker(n int64) model.Marker {
	return model.Marker(strconv.FormatInt(1_100_000_000_000_000_000+n, 10))
}

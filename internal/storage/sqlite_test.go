package storage

import (
	"context"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/milo/internal/model"
)

const testChannel = "chan-1"

// Helper function to create test storage.
func createTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(context.Background()))

	// Deterministic, strictly increasing timestamps.
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	store.SetClock(func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Second)
	})

	return store
}

func marker(n int64) model.Marker {
	return model.Marker(strconv.FormatInt(1_100_000_000_000_000_000+n, 10))
}

func newReceipt(checkpointID int64, user string, msg model.Marker, ref string, amount int64) *model.Receipt {
	return &model.Receipt{
		CheckpointID:  checkpointID,
		UserID:        user,
		UserName:      "name-" + user,
		ChannelID:     testChannel,
		MessageID:     msg,
		AttachmentRef: ref,
		Amount:        decimal.NewFromInt(amount),
	}
}

func TestNewSQLiteStorage_Validation(t *testing.T) {
	_, err := NewSQLiteStorage("  ")
	require.ErrorIs(t, err, ErrEmptyString)
}

func TestMigrate_Idempotent(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.Migrate(ctx))

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, version)
}

func TestMigrate_InMemory(t *testing.T) {
	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Migrate(context.Background()))
}

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLedger(t *testing.T, store *SQLiteStorage, receipts int) int64 {
	t.Helper()
	cp := openCheckpoint(t, store)
	for i := 0; i < receipts; i++ {
		_, _, err := store.InsertReceiptIfAbsent(context.Background(), newReceipt(cp.ID, "u1", marker(int64(i+1)), "att", 1000))
		require.NoError(t, err)
	}
	return cp.ID
}

func TestBackupManager_Create(t *testing.T) {
	store := createTestStorage(t)
	seedLedger(t, store, 2)

	manager, err := store.NewBackupManager()
	require.NoError(t, err)
	ctx := context.Background()

	info, err := manager.Create(ctx, "before-trip", "Before the trip")
	require.NoError(t, err)

	assert.Equal(t, "before-trip", info.ID)
	assert.Equal(t, "Before the trip", info.Description)
	assert.Equal(t, 1, info.Checkpoints())
	assert.Equal(t, 2, info.Receipts())
	assert.Equal(t, ExpectedSchemaVersion, info.SchemaVersion)
	assert.False(t, info.IsAuto)
	assert.Positive(t, info.FileSize)
	assert.FileExists(t, filepath.Join(manager.Dir(), "before-trip.db"))
	assert.FileExists(t, filepath.Join(manager.Dir(), "before-trip.meta.json"))

	_, err = manager.Create(ctx, "before-trip", "")
	require.ErrorIs(t, err, ErrBackupExists)

	generated, err := manager.Create(ctx, "", "")
	require.NoError(t, err)
	assert.Contains(t, generated.ID, "backup-")
}

func TestBackupManager_InvalidIDs(t *testing.T) {
	store := createTestStorage(t)
	manager, err := store.NewBackupManager()
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"../escape", "a/b", `a\b`, "it's", "x;y"} {
		t.Run(id, func(t *testing.T) {
			_, err := manager.Create(ctx, id, "")
			require.ErrorIs(t, err, ErrInvalidBackupID)
			require.ErrorIs(t, manager.Restore(ctx, id), ErrInvalidBackupID)
			require.ErrorIs(t, manager.Delete(ctx, id), ErrInvalidBackupID)
		})
	}
}

func TestBackupManager_InMemory(t *testing.T) {
	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.NewBackupManager()
	require.ErrorIs(t, err, ErrInMemoryBackup)
}

func TestBackupManager_ListNewestFirst(t *testing.T) {
	store := createTestStorage(t)
	manager, err := store.NewBackupManager()
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"first", "second", "third"} {
		_, err := manager.Create(ctx, id, "")
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(manager.Dir(), "junk.meta.json"), []byte("{"), 0600))

	backups, err := manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 3)
	assert.Equal(t, "third", backups[0].ID)
	assert.Equal(t, "first", backups[2].ID)
}

func TestBackupManager_Restore(t *testing.T) {
	store := createTestStorage(t)
	cpID := seedLedger(t, store, 1)
	ctx := context.Background()

	manager, err := store.NewBackupManager()
	require.NoError(t, err)
	_, err = manager.Create(ctx, "one-receipt", "")
	require.NoError(t, err)

	_, _, err = store.InsertReceiptIfAbsent(ctx, newReceipt(cpID, "u2", marker(50), "att", 7000))
	require.NoError(t, err)

	require.NoError(t, manager.Restore(ctx, "one-receipt"))

	reopened, err := NewSQLiteStorage(store.Path())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	n, err := reopened.CountReceipts(ctx, cpID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBackupManager_RestoreErrors(t *testing.T) {
	store := createTestStorage(t)
	manager, err := store.NewBackupManager()
	require.NoError(t, err)
	ctx := context.Background()

	require.ErrorIs(t, manager.Restore(ctx, "missing"), ErrBackupNotFound)

	_, err = manager.Create(ctx, "broken", "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(manager.Dir(), "broken.db"), []byte("not a database"), 0600))

	require.ErrorIs(t, manager.Restore(ctx, "broken"), ErrBackupCorrupted)
}

func TestBackupManager_Delete(t *testing.T) {
	store := createTestStorage(t)
	manager, err := store.NewBackupManager()
	require.NoError(t, err)
	ctx := context.Background()

	_, err = manager.Create(ctx, "gone", "")
	require.NoError(t, err)

	require.NoError(t, manager.Delete(ctx, "gone"))
	require.ErrorIs(t, manager.Delete(ctx, "gone"), ErrBackupNotFound)

	_, err = manager.Get(ctx, "gone")
	require.ErrorIs(t, err, ErrBackupNotFound)
}

func TestBackupManager_AutoBackupPrunes(t *testing.T) {
	store := createTestStorage(t)
	manager, err := store.NewBackupManager()
	require.NoError(t, err)
	ctx := context.Background()

	_, err = manager.Create(ctx, "manual", "")
	require.NoError(t, err)

	for i := 0; i < maxAutoBackups+2; i++ {
		info, err := manager.AutoBackup(ctx, "undo")
		require.NoError(t, err)
		assert.True(t, info.IsAuto)
	}

	backups, err := manager.List(ctx)
	require.NoError(t, err)

	auto := 0
	for _, b := range backups {
		if b.IsAuto {
			auto++
		}
	}
	assert.Equal(t, maxAutoBackups, auto)
	assert.Len(t, backups, maxAutoBackups+1, "manual backups are never pruned")
}

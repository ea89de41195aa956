package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// migrateTo applies migrations up to and including version.
func migrateTo(t *testing.T, store *SQLiteStorage, version int) {
	t.Helper()
	for _, m := range migrations {
		if m.Version > version {
			break
		}
		tx, err := store.db.Begin()
		require.NoError(t, err)
		require.NoError(t, m.Up(tx))
		_, err = tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version))
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
	}
}

func TestMigration3_UpgradeKeepsData(t *testing.T) {
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "upgrade.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	migrateTo(t, store, 2)
	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, version)

	_, err = store.db.Exec(`INSERT INTO checkpoints (channel_id, start_marker, created_at, closed_at)
		VALUES ('chan-1', '', '2024-01-01T00:00:00Z', '2024-01-02T00:00:00Z'),
		       ('chan-1', '', '2024-01-03T00:00:00Z', NULL)`)
	require.NoError(t, err)

	require.NoError(t, store.Migrate(ctx))

	version, err = store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, version)

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM checkpoints`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestMigration3_OneOpenCheckpointIndex(t *testing.T) {
	store := createTestStorage(t)

	var indexCount int
	err := store.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='index' AND name='idx_checkpoints_one_open'
	`).Scan(&indexCount)
	require.NoError(t, err)
	require.Equal(t, 1, indexCount)

	insert := `INSERT INTO checkpoints (channel_id, start_marker, created_at) VALUES (?, '', '2024-01-01T00:00:00Z')`
	_, err = store.db.Exec(insert, "chan-1")
	require.NoError(t, err)

	_, err = store.db.Exec(insert, "chan-1")
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))

	_, err = store.db.Exec(insert, "chan-2")
	assert.NoError(t, err, "other channels may have their own open checkpoint")
}

func TestMigration4_UpgradeKeepsCursorsAndConversations(t *testing.T) {
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "upgrade4.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	migrateTo(t, store, 3)
	_, err = store.db.Exec(`INSERT INTO channel_cursors (channel_id, last_marker, last_seq, updated_at)
		VALUES ('chan-1', '4194304', 4194304, '2024-01-01T00:00:00Z')`)
	require.NoError(t, err)
	_, err = store.db.Exec(`INSERT INTO conversation_states (user_id, channel_id, state, amount, updated_at)
		VALUES ('u1', 'chan-1', 'awaiting-description', '15000', '2024-01-01T00:00:00Z')`)
	require.NoError(t, err)

	require.NoError(t, store.Migrate(ctx))

	cursor, err := store.GetCursor(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, "4194304", cursor.LastMarker.String())
	assert.True(t, cursor.HeldAt.IsZero())

	conv, err := store.GetConversation(ctx, "u1", "chan-1")
	require.NoError(t, err)
	assert.Equal(t, "awaiting-description", string(conv.State.Tag()))
	assert.True(t, conv.LastMarker.IsZero())
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Ledger schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS checkpoints (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					channel_id TEXT NOT NULL,
					start_marker TEXT NOT NULL DEFAULT '',
					end_marker TEXT,
					created_at DATETIME NOT NULL,
					closed_at DATETIME
				)`,
				`CREATE INDEX idx_checkpoints_channel ON checkpoints(channel_id, id)`,

				`CREATE TABLE IF NOT EXISTS receipts (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					checkpoint_id INTEGER NOT NULL REFERENCES checkpoints(id),
					user_id TEXT NOT NULL,
					user_name TEXT NOT NULL DEFAULT '',
					channel_id TEXT NOT NULL,
					message_id TEXT NOT NULL,
					attachment_ref TEXT NOT NULL DEFAULT '',
					amount TEXT NOT NULL,
					description TEXT,
					created_at DATETIME NOT NULL,
					UNIQUE (checkpoint_id, message_id, attachment_ref)
				)`,
				`CREATE INDEX idx_receipts_checkpoint_order ON receipts(checkpoint_id, created_at, id)`,
			}
			return execAll(tx, queries)
		},
	},
	{
		Version:     2,
		Description: "Channel cursors and conversation state",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS channel_cursors (
					channel_id TEXT PRIMARY KEY,
					last_marker TEXT NOT NULL,
					last_seq INTEGER NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS conversation_states (
					user_id TEXT NOT NULL,
					channel_id TEXT NOT NULL,
					state TEXT NOT NULL,
					amount TEXT,
					updated_at DATETIME NOT NULL,
					PRIMARY KEY (user_id, channel_id)
				)`,
			}
			return execAll(tx, queries)
		},
	},
	{
		Version:     3,
		Description: "One open checkpoint per channel",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_checkpoints_one_open
					ON checkpoints(channel_id) WHERE closed_at IS NULL`,
			})
		},
	},
	{
		Version:     4,
		Description: "Cursor holds and last handled text message",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`ALTER TABLE channel_cursors ADD COLUMN hold_marker TEXT`,
				`ALTER TABLE channel_cursors ADD COLUMN hold_seq INTEGER`,
				`ALTER TABLE conversation_states ADD COLUMN last_marker TEXT NOT NULL DEFAULT ''`,
			})
		},
	},
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Migrate runs all database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion reports the applied migration version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

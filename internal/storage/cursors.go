package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/milo/internal/common"
	"github.com/Veraticus/milo/internal/model"
)

// GetCursor returns the channel's last observed message, or common.ErrNotFound.
func (s *SQLiteStorage) GetCursor(ctx context.Context, channelID string) (*model.ChannelCursor, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		cursor model.ChannelCursor
		marker string
		held   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT channel_id, last_marker, hold_marker, updated_at
		FROM channel_cursors
		WHERE channel_id = ?
	`, channelID).Scan(&cursor.ChannelID, &marker, &held, &cursor.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	cursor.LastMarker = model.Marker(marker)
	cursor.HeldAt = model.Marker(held.String)
	return &cursor, nil
}

// AdvanceCursor moves the channel cursor forward to marker. A marker that is
// not newer than the stored one leaves the cursor unchanged, and so does one
// beyond a hold. Reaching the held message releases the hold. The
// comparisons happen inside the upsert, so concurrent writers can only move
// the cursor forward.
func (s *SQLiteStorage) AdvanceCursor(ctx context.Context, channelID string, marker model.Marker) (bool, error) {
	if err := validateCursorArgs(ctx, channelID, marker); err != nil {
		return false, err
	}
	return s.advanceCursor(ctx, s.db, channelID, marker)
}

func (s *SQLiteStorage) advanceCursor(ctx context.Context, q queryable, channelID string, marker model.Marker) (bool, error) {
	seq, _ := marker.Seq()
	result, err := q.ExecContext(ctx, `
		INSERT INTO channel_cursors (channel_id, last_marker, last_seq, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (channel_id) DO UPDATE SET
			last_marker = excluded.last_marker,
			last_seq = excluded.last_seq,
			hold_marker = CASE WHEN channel_cursors.hold_seq = excluded.last_seq
				THEN NULL ELSE channel_cursors.hold_marker END,
			hold_seq = CASE WHEN channel_cursors.hold_seq = excluded.last_seq
				THEN NULL ELSE channel_cursors.hold_seq END,
			updated_at = excluded.updated_at
		WHERE excluded.last_seq > channel_cursors.last_seq
			AND (channel_cursors.hold_seq IS NULL OR excluded.last_seq <= channel_cursors.hold_seq)
	`, channelID, string(marker), seq, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to advance cursor: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// HoldCursor keeps the cursor from moving past marker, a message that failed
// to reconcile. The earliest hold wins. It reports whether the cursor is now
// pinned at or before marker; it cannot be when the cursor is already past
// it or the channel has no cursor.
func (s *SQLiteStorage) HoldCursor(ctx context.Context, channelID string, marker model.Marker) (bool, error) {
	if err := validateCursorArgs(ctx, channelID, marker); err != nil {
		return false, err
	}

	seq, _ := marker.Seq()
	var pinned bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE channel_cursors
			SET hold_marker = ?, hold_seq = ?, updated_at = ?
			WHERE channel_id = ?
				AND last_seq < ?
				AND (hold_seq IS NULL OR hold_seq > ?)
		`, string(marker), seq, s.now(), channelID, seq, seq); err != nil {
			return fmt.Errorf("failed to hold cursor: %w", err)
		}

		err := tx.QueryRowContext(ctx, `
			SELECT hold_seq IS NOT NULL AND hold_seq <= ?
			FROM channel_cursors
			WHERE channel_id = ?
		`, seq, channelID).Scan(&pinned)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read cursor hold: %w", err)
		}
		return nil
	})
	return pinned, err
}

// ReleaseCursor drops a hold at or before marker and advances the cursor to
// it. Callers use it after a catch-up that read every message from the
// cursor up to marker, so a held message was either reconciled or no longer
// exists.
func (s *SQLiteStorage) ReleaseCursor(ctx context.Context, channelID string, marker model.Marker) (bool, error) {
	if err := validateCursorArgs(ctx, channelID, marker); err != nil {
		return false, err
	}

	seq, _ := marker.Seq()
	var advanced bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE channel_cursors
			SET hold_marker = NULL, hold_seq = NULL
			WHERE channel_id = ? AND hold_seq <= ?
		`, channelID, seq); err != nil {
			return fmt.Errorf("failed to release cursor: %w", err)
		}

		var err error
		advanced, err = s.advanceCursor(ctx, tx, channelID, marker)
		return err
	})
	return advanced, err
}

// SeedCursor sets the cursor only when the channel has none yet.
func (s *SQLiteStorage) SeedCursor(ctx context.Context, channelID string, marker model.Marker) (bool, error) {
	if err := validateCursorArgs(ctx, channelID, marker); err != nil {
		return false, err
	}

	seq, _ := marker.Seq()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_cursors (channel_id, last_marker, last_seq, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (channel_id) DO NOTHING
	`, channelID, string(marker), seq, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to seed cursor: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

func validateCursorArgs(ctx context.Context, channelID string, marker model.Marker) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(channelID, "channelID"); err != nil {
		return err
	}
	return validateMarker(marker, "marker")
}

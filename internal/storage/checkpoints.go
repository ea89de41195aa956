package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/milo/internal/common"
	"github.com/Veraticus/milo/internal/model"
	"github.com/Veraticus/milo/internal/service"
)

const checkpointColumns = `id, channel_id, start_marker, end_marker, created_at, closed_at`

// scopeFilter matches rows of channelID, or every row when the scope is global.
const scopeFilter = `(? = 1 OR channel_id = ?)`

func scopeArgs(scope service.CheckpointScope, channelID string) []any {
	global := 0
	if scope == service.ScopeGlobal {
		global = 1
	}
	return []any{global, channelID}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*model.Checkpoint, error) {
	var (
		cp        model.Checkpoint
		start     string
		endMarker sql.NullString
		closedAt  sql.NullTime
	)
	if err := row.Scan(&cp.ID, &cp.ChannelID, &start, &endMarker, &cp.CreatedAt, &closedAt); err != nil {
		return nil, err
	}
	cp.StartMarker = model.Marker(start)
	if endMarker.Valid {
		cp.EndMarker = model.Marker(endMarker.String)
	}
	if closedAt.Valid {
		t := closedAt.Time
		cp.ClosedAt = &t
	}
	return &cp, nil
}

// CreateCheckpoint opens a checkpoint unless one is already open in scope.
// The check and the insert are a single statement, so concurrent starts
// cannot both succeed.
func (s *SQLiteStorage) CreateCheckpoint(ctx context.Context, scope service.CheckpointScope, channelID string, start model.Marker) (*model.Checkpoint, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(channelID, "channelID"); err != nil {
		return nil, err
	}

	args := []any{channelID, string(start), s.now()}
	args = append(args, scopeArgs(scope, channelID)...)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (channel_id, start_marker, created_at)
		SELECT ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM checkpoints WHERE closed_at IS NULL AND `+scopeFilter+`
		)
	`, args...)
	if err != nil && !isUniqueViolation(err) {
		return nil, fmt.Errorf("failed to create checkpoint: %w", err)
	}

	var affected int64
	if err == nil {
		affected, err = result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
	}

	if affected == 0 {
		active, activeErr := s.GetActiveCheckpoint(ctx, scope, channelID)
		if activeErr != nil {
			return nil, fmt.Errorf("failed to load active checkpoint: %w", activeErr)
		}
		return active, common.NewCheckpointError(common.ErrAlreadyActive, active.ID)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint id: %w", err)
	}

	return s.GetCheckpoint(ctx, id)
}

// GetCheckpoint retrieves a checkpoint by id.
func (s *SQLiteStorage) GetCheckpoint(ctx context.Context, id int64) (*model.Checkpoint, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return cp, nil
}

// GetActiveCheckpoint returns the open checkpoint in scope, or
// common.ErrNoActiveCheckpoint.
func (s *SQLiteStorage) GetActiveCheckpoint(ctx context.Context, scope service.CheckpointScope, channelID string) (*model.Checkpoint, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, `
		SELECT `+checkpointColumns+`
		FROM checkpoints
		WHERE closed_at IS NULL AND `+scopeFilter+`
		ORDER BY id DESC
		LIMIT 1
	`, scopeArgs(scope, channelID)...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNoActiveCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active checkpoint: %w", err)
	}
	return cp, nil
}

// GetLatestCheckpoint returns the most recently created checkpoint in scope,
// open or closed, or common.ErrNotFound.
func (s *SQLiteStorage) GetLatestCheckpoint(ctx context.Context, scope service.CheckpointScope, channelID string) (*model.Checkpoint, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, `
		SELECT `+checkpointColumns+`
		FROM checkpoints
		WHERE `+scopeFilter+`
		ORDER BY id DESC
		LIMIT 1
	`, scopeArgs(scope, channelID)...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}
	return cp, nil
}

// CloseCheckpoint stamps the end of an open checkpoint. Closing a checkpoint
// that is already closed, or missing, yields common.ErrNoActiveCheckpoint.
func (s *SQLiteStorage) CloseCheckpoint(ctx context.Context, id int64, end model.Marker) (*model.Checkpoint, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE checkpoints
		SET closed_at = ?, end_marker = ?
		WHERE id = ? AND closed_at IS NULL
	`, s.now(), nullString(string(end)), id)
	if err != nil {
		return nil, fmt.Errorf("failed to close checkpoint: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, common.NewCheckpointError(common.ErrNoActiveCheckpoint, id)
	}

	return s.GetCheckpoint(ctx, id)
}

// DeleteCheckpointIfEmpty removes an open checkpoint that holds no receipts.
// It returns common.ErrHasReceipts when receipts exist and
// common.ErrNotFound when no open checkpoint has that id.
func (s *SQLiteStorage) DeleteCheckpointIfEmpty(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			DELETE FROM checkpoints
			WHERE id = ?
			  AND closed_at IS NULL
			  AND NOT EXISTS (SELECT 1 FROM receipts WHERE checkpoint_id = ?)
		`, id, id)
		if err != nil {
			return fmt.Errorf("failed to delete checkpoint: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected > 0 {
			return nil
		}

		var receipts int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM receipts WHERE checkpoint_id = ?`, id).Scan(&receipts); err != nil {
			return fmt.Errorf("failed to count receipts: %w", err)
		}
		if receipts > 0 {
			return common.NewCheckpointError(common.ErrHasReceipts, id)
		}
		return common.NewCheckpointError(common.ErrNotFound, id)
	})
}

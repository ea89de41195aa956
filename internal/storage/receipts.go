package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/milo/internal/common"
	"github.com/Veraticus/milo/internal/model"
)

const receiptColumns = `id, checkpoint_id, user_id, user_name, channel_id, message_id,
	attachment_ref, amount, description, created_at`

// receiptOrder is the position order used by summaries and deletion.
const receiptOrder = `ORDER BY created_at ASC, id ASC`

func scanReceipt(row rowScanner) (*model.Receipt, error) {
	var (
		r           model.Receipt
		messageID   string
		description sql.NullString
	)
	if err := row.Scan(
		&r.ID,
		&r.CheckpointID,
		&r.UserID,
		&r.UserName,
		&r.ChannelID,
		&messageID,
		&r.AttachmentRef,
		&r.Amount,
		&description,
		&r.CreatedAt,
	); err != nil {
		return nil, err
	}
	r.MessageID = model.Marker(messageID)
	r.Description = description.String
	return &r, nil
}

// InsertReceiptIfAbsent records a receipt unless one already exists for the
// same (checkpoint, message, attachment). The returned id is the stored
// receipt's id in both cases, and created reports whether this call wrote it.
func (s *SQLiteStorage) InsertReceiptIfAbsent(ctx context.Context, receipt *model.Receipt) (int64, bool, error) {
	if err := validateContext(ctx); err != nil {
		return 0, false, err
	}
	if err := validateReceipt(receipt); err != nil {
		return 0, false, err
	}
	return s.insertReceipt(ctx, s.db, receipt)
}

func (s *SQLiteStorage) insertReceipt(ctx context.Context, q queryable, receipt *model.Receipt) (int64, bool, error) {
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = s.now()
	} else {
		receipt.CreatedAt = receipt.CreatedAt.UTC()
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO receipts (
			checkpoint_id, user_id, user_name, channel_id, message_id,
			attachment_ref, amount, description, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (checkpoint_id, message_id, attachment_ref) DO NOTHING
	`,
		receipt.CheckpointID,
		receipt.UserID,
		receipt.UserName,
		receipt.ChannelID,
		string(receipt.MessageID),
		receipt.AttachmentRef,
		receipt.Amount,
		nullString(receipt.Description),
		receipt.CreatedAt,
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert receipt: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		var id int64
		err := q.QueryRowContext(ctx, `
			SELECT id FROM receipts
			WHERE checkpoint_id = ? AND message_id = ? AND attachment_ref = ?
		`, receipt.CheckpointID, string(receipt.MessageID), receipt.AttachmentRef).Scan(&id)
		if err != nil {
			return 0, false, fmt.Errorf("failed to load existing receipt: %w", err)
		}
		receipt.ID = id
		return id, false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get receipt id: %w", err)
	}
	receipt.ID = id
	return id, true, nil
}

// HasReceipt reports whether the (checkpoint, message, attachment) triple is
// already recorded.
func (s *SQLiteStorage) HasReceipt(ctx context.Context, checkpointID int64, messageID model.Marker, attachmentRef string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM receipts
			WHERE checkpoint_id = ? AND message_id = ? AND attachment_ref = ?
		)
	`, checkpointID, string(messageID), attachmentRef).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check receipt: %w", err)
	}
	return exists, nil
}

// ListReceipts returns a checkpoint's receipts in creation order.
func (s *SQLiteStorage) ListReceipts(ctx context.Context, checkpointID int64) ([]model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE checkpoint_id = ?
		`+receiptOrder, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var receipts []model.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipts: %w", err)
	}
	return receipts, nil
}

// CountReceipts returns how many receipts a checkpoint holds.
func (s *SQLiteStorage) CountReceipts(ctx context.Context, checkpointID int64) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM receipts WHERE checkpoint_id = ?`, checkpointID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count receipts: %w", err)
	}
	return count, nil
}

// SummaryByUser aggregates a checkpoint's receipts per user. Amounts are
// summed as decimals in Go since SQLite has no exact decimal type.
func (s *SQLiteStorage) SummaryByUser(ctx context.Context, checkpointID int64) ([]model.UserTotal, error) {
	receipts, err := s.ListReceipts(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	return model.TotalsByUser(receipts), nil
}

// DeleteReceiptByPosition removes the receipt at a 1-based position in the
// checkpoint's creation order.
func (s *SQLiteStorage) DeleteReceiptByPosition(ctx context.Context, checkpointID int64, position int) (*model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if position < 1 {
		return nil, fmt.Errorf("%w: %d", common.ErrPositionNotFound, position)
	}

	r, err := scanReceipt(s.db.QueryRowContext(ctx, `
		DELETE FROM receipts
		WHERE id = (
			SELECT id FROM receipts
			WHERE checkpoint_id = ?
			`+receiptOrder+`
			LIMIT 1 OFFSET ?
		)
		RETURNING `+receiptColumns,
		checkpointID, position-1))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", common.ErrPositionNotFound, position)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete receipt: %w", err)
	}
	return r, nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/milo/internal/model"
)

func decodeState(tag string, amount sql.NullString) (model.ConversationState, error) {
	switch model.StateTag(tag) {
	case model.StateIdle:
		return model.Idle{}, nil
	case model.StateAwaitingDescription:
		if !amount.Valid {
			return nil, fmt.Errorf("conversation state %q without amount", tag)
		}
		value, err := decimal.NewFromString(amount.String)
		if err != nil {
			return nil, fmt.Errorf("invalid pending amount %q: %w", amount.String, err)
		}
		return model.AwaitingDescription{Amount: value}, nil
	default:
		return nil, fmt.Errorf("unknown conversation state %q", tag)
	}
}

// GetConversation returns the user's state in a channel. A user with no
// stored state is Idle.
func (s *SQLiteStorage) GetConversation(ctx context.Context, userID, channelID string) (model.Conversation, error) {
	conv := model.Conversation{UserID: userID, ChannelID: channelID, State: model.Idle{}}
	if err := validateContext(ctx); err != nil {
		return conv, err
	}

	var (
		tag       string
		amount    sql.NullString
		last      string
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT state, amount, last_marker, updated_at
		FROM conversation_states
		WHERE user_id = ? AND channel_id = ?
	`, userID, channelID).Scan(&tag, &amount, &last, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return conv, nil
	}
	if err != nil {
		return conv, fmt.Errorf("failed to load conversation: %w", err)
	}

	state, err := decodeState(tag, amount)
	if err != nil {
		return conv, err
	}
	conv.State = state
	conv.LastMarker = model.Marker(last)
	conv.UpdatedAt = updatedAt
	return conv, nil
}

// SetConversation replaces the user's state and the last handled message.
func (s *SQLiteStorage) SetConversation(ctx context.Context, conv model.Conversation) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateConversation(conv); err != nil {
		return err
	}
	return s.setConversation(ctx, s.db, conv)
}

// RecordTextReceipt inserts a receipt taken from a text message and stores
// the user's next conversation state in one transaction. Either both are
// written or neither is, so a failed attempt leaves a pending amount in
// place for the retry.
func (s *SQLiteStorage) RecordTextReceipt(ctx context.Context, receipt *model.Receipt, next model.Conversation) (int64, bool, error) {
	if err := validateContext(ctx); err != nil {
		return 0, false, err
	}
	if err := validateReceipt(receipt); err != nil {
		return 0, false, err
	}
	if err := validateConversation(next); err != nil {
		return 0, false, err
	}

	var (
		id      int64
		created bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, created, err = s.insertReceipt(ctx, tx, receipt)
		if err != nil {
			return err
		}
		return s.setConversation(ctx, tx, next)
	})
	if err != nil {
		return 0, false, err
	}
	return id, created, nil
}

func (s *SQLiteStorage) setConversation(ctx context.Context, q queryable, conv model.Conversation) error {
	var amount sql.NullString
	switch state := conv.State.(type) {
	case nil, model.Idle:
		conv.State = model.Idle{}
	case model.AwaitingDescription:
		amount = sql.NullString{String: state.Amount.String(), Valid: true}
	default:
		return fmt.Errorf("unsupported conversation state %T", conv.State)
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO conversation_states (user_id, channel_id, state, amount, last_marker, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, channel_id) DO UPDATE SET
			state = excluded.state,
			amount = excluded.amount,
			last_marker = excluded.last_marker,
			updated_at = excluded.updated_at
	`, conv.UserID, conv.ChannelID, string(conv.State.Tag()), amount, string(conv.LastMarker), s.now()); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

func validateConversation(conv model.Conversation) error {
	if err := validateString(conv.UserID, "userID"); err != nil {
		return err
	}
	return validateString(conv.ChannelID, "channelID")
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/milo/internal/common"
	"github.com/Veraticus/milo/internal/llm"
	"github.com/Veraticus/milo/internal/model"
	"github.com/Veraticus/milo/internal/service"
)

const defaultHistoryLimit = 10

// Disambiguator handles text messages: chat, a complete expense, or an
// amount that needs a follow-up description.
type Disambiguator struct {
	storage      service.Storage
	analyzer     Analyzer
	history      MessageSource
	sink         EventSink
	logger       *slog.Logger
	scope        service.CheckpointScope
	historyLimit int
}

// NewDisambiguator creates the text path. history may be nil, in which
// case messages are analyzed without context.
func NewDisambiguator(storage service.Storage, analyzer Analyzer, history MessageSource, sink EventSink, scope service.CheckpointScope, logger *slog.Logger) *Disambiguator {
	if logger == nil {
		logger = slog.Default()
	}
	if scope == "" {
		scope = service.ScopePerChannel
	}
	return &Disambiguator{
		storage:      storage,
		analyzer:     analyzer,
		history:      history,
		sink:         sink,
		logger:       logger,
		scope:        scope,
		historyLimit: defaultHistoryLimit,
	}
}

// Handle processes one text message and reports whether a receipt was
// created. Any pending amount for the sender is consumed first, whether or
// not this message completes it. The message is marked handled in the same
// write that applies its effect, so a retry after a failure redoes only the
// unfinished part and a replay of a handled message does nothing.
func (d *Disambiguator) Handle(ctx context.Context, channelID string, msg model.Message) (bool, error) {
	conv, err := d.storage.GetConversation(ctx, msg.Author.ID, channelID)
	if err != nil {
		return false, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv.Handled(msg.ID) {
		d.logger.Debug("Text message already handled", "message", msg.ID, "last", conv.LastMarker)
		return false, nil
	}

	next := model.Conversation{
		UserID:     msg.Author.ID,
		ChannelID:  channelID,
		State:      model.Idle{},
		LastMarker: msg.ID,
	}

	if pending, ok := conv.State.(model.AwaitingDescription); ok {
		return d.completePending(ctx, channelID, msg, pending, next)
	}

	intent := d.analyzer.Analyze(ctx, msg.Content, d.recentHistory(ctx, channelID, msg.ID))

	switch intent.Kind {
	case llm.IntentReceipt:
		return d.handleExpense(ctx, channelID, msg, intent, next)
	default:
		if intent.Reply != "" {
			if err := d.sink.Reply(ctx, Reply{
				Kind:      ReplyChat,
				ChannelID: channelID,
				ReplyTo:   msg.ID,
				Text:      intent.Reply,
			}); err != nil {
				return false, err
			}
		}
		return false, d.save(ctx, next)
	}
}

func (d *Disambiguator) completePending(ctx context.Context, channelID string, msg model.Message, pending model.AwaitingDescription, next model.Conversation) (bool, error) {
	cp, err := d.storage.GetActiveCheckpoint(ctx, d.scope, channelID)
	if errors.Is(err, common.ErrNoActiveCheckpoint) {
		if err := d.sink.Reply(ctx, Reply{
			Kind:      ReplyPendingDropped,
			ChannelID: channelID,
			ReplyTo:   msg.ID,
			Amount:    pending.Amount,
		}); err != nil {
			return false, err
		}
		return false, d.save(ctx, next)
	}
	if err != nil {
		return false, err
	}

	return d.record(ctx, cp, channelID, msg, pending.Amount, msg.Content, next)
}

func (d *Disambiguator) handleExpense(ctx context.Context, channelID string, msg model.Message, intent llm.Intent, next model.Conversation) (bool, error) {
	cp, err := d.storage.GetActiveCheckpoint(ctx, d.scope, channelID)
	if errors.Is(err, common.ErrNoActiveCheckpoint) {
		if err := d.sink.Reply(ctx, Reply{
			Kind:      ReplyNoCheckpoint,
			ChannelID: channelID,
			ReplyTo:   msg.ID,
			Amount:    intent.Amount,
		}); err != nil {
			return false, err
		}
		return false, d.save(ctx, next)
	}
	if err != nil {
		return false, err
	}

	if intent.Item == "" {
		if err := d.sink.Reply(ctx, Reply{
			Kind:      ReplyClarify,
			ChannelID: channelID,
			ReplyTo:   msg.ID,
			Text:      intent.Reply,
			Amount:    intent.Amount,
		}); err != nil {
			return false, err
		}
		next.State = model.AwaitingDescription{Amount: intent.Amount}
		return false, d.save(ctx, next)
	}

	return d.record(ctx, cp, channelID, msg, intent.Amount, intent.Item, next)
}

func (d *Disambiguator) record(ctx context.Context, cp *model.Checkpoint, channelID string, msg model.Message, amount decimal.Decimal, description string, next model.Conversation) (bool, error) {
	receipt := model.Receipt{
		CheckpointID: cp.ID,
		UserID:       msg.Author.ID,
		UserName:     msg.Author.Name(),
		ChannelID:    channelID,
		MessageID:    msg.ID,
		Amount:       amount,
		Description:  description,
	}

	_, created, err := d.storage.RecordTextReceipt(ctx, &receipt, next)
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}

	if err := d.sink.ReceiptRecorded(ctx, ReceiptRecorded{Receipt: receipt}); err != nil {
		return true, fmt.Errorf("failed to acknowledge receipt: %w", err)
	}
	return true, nil
}

func (d *Disambiguator) save(ctx context.Context, next model.Conversation) error {
	if err := d.storage.SetConversation(ctx, next); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// recentHistory returns up to historyLimit human messages before marker,
// oldest first. History is context only, so failures yield none.
func (d *Disambiguator) recentHistory(ctx context.Context, channelID string, before model.Marker) []model.Message {
	if d.history == nil {
		return nil
	}

	messages, err := d.history.FetchMessagesBefore(ctx, channelID, before, d.historyLimit*2)
	if err != nil {
		d.logger.Debug("Failed to fetch history", "channel", channelID, "error", err)
		return nil
	}

	var human []model.Message
	for _, m := range messages {
		if !m.Author.Bot && m.Content != "" {
			human = append(human, m)
		}
	}
	if len(human) > d.historyLimit {
		human = human[len(human)-d.historyLimit:]
	}
	return human
}

package bot

import (
	"context"
	"log/slog"

	"github.com/Veraticus/milo/internal/engine"
	"github.com/Veraticus/milo/internal/model"
)

var _ engine.EventSink = (*Notifier)(nil)

// Poster is the part of the transport the notifier writes through.
type Poster interface {
	SendMessage(ctx context.Context, channelID, content string) error
	ReplyToMessage(ctx context.Context, channelID string, messageID model.Marker, content string) error
}

// Notifier posts engine events to the channel they came from.
type Notifier struct {
	poster Poster
	logger *slog.Logger
}

// NewNotifier creates an event sink that posts through poster.
func NewNotifier(poster Poster, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{poster: poster, logger: logger}
}

// ReceiptRecorded acknowledges a receipt as a reply to its message.
func (n *Notifier) ReceiptRecorded(ctx context.Context, event engine.ReceiptRecorded) error {
	r := event.Receipt
	return n.poster.ReplyToMessage(ctx, r.ChannelID, r.MessageID, AcknowledgedText(r))
}

// Reply answers the message the reply refers to.
func (n *Notifier) Reply(ctx context.Context, reply engine.Reply) error {
	text := ReplyText(reply)
	if text == "" {
		n.logger.Debug("Dropping empty reply", "channel", reply.ChannelID, "kind", reply.Kind)
		return nil
	}
	if reply.ReplyTo.IsZero() {
		return n.poster.SendMessage(ctx, reply.ChannelID, text)
	}
	return n.poster.ReplyToMessage(ctx, reply.ChannelID, reply.ReplyTo, text)
}

// BacklogCompleted posts the catch-up summary.
func (n *Notifier) BacklogCompleted(ctx context.Context, channelID string, result engine.ReconcileResult) error {
	return n.poster.SendMessage(ctx, channelID, BacklogText(result))
}

// Package engine reconciles chat messages into the receipt ledger.
package engine

import (
	"context"

	"github.com/Veraticus/milo/internal/llm"
	"github.com/Veraticus/milo/internal/model"
)

// Extractor reads receipt totals from images.
type Extractor interface {
	ExtractAmount(ctx context.Context, ref llm.ImageRef) llm.Extraction
	ExtractComment(ctx context.Context, ref llm.ImageRef) string
}

// Analyzer classifies free text as chat or an expense.
type Analyzer interface {
	Analyze(ctx context.Context, text string, history []model.Message) llm.Intent
}

// MessageSource pages through a channel's history. Both methods return
// messages oldest first.
type MessageSource interface {
	FetchMessagesAfter(ctx context.Context, channelID string, after model.Marker, limit int) ([]model.Message, error)
	FetchMessagesBefore(ctx context.Context, channelID string, before model.Marker, limit int) ([]model.Message, error)
}

// EventSink receives what reconciliation wants said in the channel.
// An error from the sink aborts the batch before the cursor moves.
type EventSink interface {
	ReceiptRecorded(ctx context.Context, event ReceiptRecorded) error
	Reply(ctx context.Context, reply Reply) error
	BacklogCompleted(ctx context.Context, channelID string, result ReconcileResult) error
}

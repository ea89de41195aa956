package engine

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/milo/internal/model"
)

// Source names the delivery path a batch arrived through.
type Source string

const (
	// SourceLive is the push path.
	SourceLive Source = "live"
	// SourceBacklog is the scheduled catch-up path.
	SourceBacklog Source = "backlog"
	// SourceManual is an operator-triggered catch-up.
	SourceManual Source = "manual"
)

// ReceiptRecorded is emitted once per newly stored receipt.
type ReceiptRecorded struct {
	Receipt model.Receipt
}

// ReplyKind tells the sink how to phrase a reply.
type ReplyKind int

const (
	// ReplyNotReceipt carries a model-written remark about a non-receipt image.
	ReplyNotReceipt ReplyKind = iota
	// ReplyUnreadable carries a fallback remark for an image that could not be read.
	ReplyUnreadable
	// ReplyChat carries a conversational answer.
	ReplyChat
	// ReplyClarify asks what an amount was for.
	ReplyClarify
	// ReplyNoCheckpoint reports an expense that arrived with no open checkpoint.
	ReplyNoCheckpoint
	// ReplyPendingDropped reports a pending amount discarded for lack of a checkpoint.
	ReplyPendingDropped
)

// Reply is a message to post in response to an inbound message.
type Reply struct {
	Amount    decimal.Decimal
	ChannelID string
	ReplyTo   model.Marker
	Text      string
	Kind      ReplyKind
}

// ReconcileResult summarizes one reconcile or catch-up run.
type ReconcileResult struct {
	RunID      uuid.UUID
	LastMarker model.Marker
	Messages   int
	Receipts   int
	Failures   int
}

func (r *ReconcileResult) merge(other ReconcileResult) {
	r.Messages += other.Messages
	r.Receipts += other.Receipts
	r.Failures += other.Failures
	if !other.LastMarker.IsZero() {
		r.LastMarker = other.LastMarker
	}
}

// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/milo/internal/model"
)

// CheckpointScope decides how far the one-open-checkpoint rule reaches.
type CheckpointScope string

const (
	// ScopePerChannel allows one open checkpoint per channel.
	ScopePerChannel CheckpointScope = "per-channel"
	// ScopeGlobal allows one open checkpoint across every channel.
	ScopeGlobal CheckpointScope = "global"
)

// ParseCheckpointScope validates a configured scope name.
func ParseCheckpointScope(s string) (CheckpointScope, error) {
	switch CheckpointScope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopePerChannel:
		return ScopePerChannel, nil
	case ScopeGlobal:
		return ScopeGlobal, nil
	default:
		return "", fmt.Errorf("unknown checkpoint scope %q", s)
	}
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Checkpoint operations
	CreateCheckpoint(ctx context.Context, scope CheckpointScope, channelID string, start model.Marker) (*model.Checkpoint, error)
	GetCheckpoint(ctx context.Context, id int64) (*model.Checkpoint, error)
	GetActiveCheckpoint(ctx context.Context, scope CheckpointScope, channelID string) (*model.Checkpoint, error)
	GetLatestCheckpoint(ctx context.Context, scope CheckpointScope, channelID string) (*model.Checkpoint, error)
	CloseCheckpoint(ctx context.Context, id int64, end model.Marker) (*model.Checkpoint, error)
	DeleteCheckpointIfEmpty(ctx context.Context, id int64) error

	// Receipt operations
	InsertReceiptIfAbsent(ctx context.Context, receipt *model.Receipt) (id int64, created bool, err error)
	HasReceipt(ctx context.Context, checkpointID int64, messageID model.Marker, attachmentRef string) (bool, error)
	ListReceipts(ctx context.Context, checkpointID int64) ([]model.Receipt, error)
	CountReceipts(ctx context.Context, checkpointID int64) (int, error)
	SummaryByUser(ctx context.Context, checkpointID int64) ([]model.UserTotal, error)
	DeleteReceiptByPosition(ctx context.Context, checkpointID int64, position int) (*model.Receipt, error)

	// Cursor operations
	GetCursor(ctx context.Context, channelID string) (*model.ChannelCursor, error)
	AdvanceCursor(ctx context.Context, channelID string, marker model.Marker) (bool, error)
	HoldCursor(ctx context.Context, channelID string, marker model.Marker) (bool, error)
	ReleaseCursor(ctx context.Context, channelID string, marker model.Marker) (bool, error)
	SeedCursor(ctx context.Context, channelID string, marker model.Marker) (bool, error)

	// Conversation operations
	GetConversation(ctx context.Context, userID, channelID string) (model.Conversation, error)
	SetConversation(ctx context.Context, conv model.Conversation) error
	RecordTextReceipt(ctx context.Context, receipt *model.Receipt, next model.Conversation) (id int64, created bool, err error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

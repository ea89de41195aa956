package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/milo/internal/common"
	"github.com/Veraticus/milo/internal/model"
	"github.com/Veraticus/milo/internal/service"
)

// CheckpointManager runs the checkpoint lifecycle: start, close, undo.
type CheckpointManager struct {
	storage service.Storage
	logger  *slog.Logger
	scope   service.CheckpointScope
}

// NewCheckpointManager creates a manager enforcing one open checkpoint per scope.
func NewCheckpointManager(storage service.Storage, scope service.CheckpointScope, logger *slog.Logger) *CheckpointManager {
	if logger == nil {
		logger = slog.Default()
	}
	if scope == "" {
		scope = service.ScopePerChannel
	}
	return &CheckpointManager{storage: storage, scope: scope, logger: logger}
}

// Scope returns the configured checkpoint scope.
func (m *CheckpointManager) Scope() service.CheckpointScope {
	return m.scope
}

// Start opens a checkpoint in channelID. When one is already open, the
// existing checkpoint is returned with common.ErrAlreadyActive. A channel
// seen for the first time gets its cursor seeded at marker so older
// history is never replayed.
func (m *CheckpointManager) Start(ctx context.Context, channelID string, marker model.Marker) (*model.Checkpoint, error) {
	cp, err := m.storage.CreateCheckpoint(ctx, m.scope, channelID, marker)
	if err != nil {
		return cp, err
	}

	if !marker.IsZero() {
		seeded, err := m.storage.SeedCursor(ctx, channelID, marker)
		if err != nil {
			return cp, fmt.Errorf("failed to seed cursor: %w", err)
		}
		if seeded {
			m.logger.Info("Seeded channel cursor", "channel", channelID, "marker", marker)
		}
	}

	m.logger.Info("Started checkpoint", "checkpoint", cp.ID, "channel", channelID, "scope", m.scope)
	return cp, nil
}

// Active returns the open checkpoint for channelID, or common.ErrNoActiveCheckpoint.
func (m *CheckpointManager) Active(ctx context.Context, channelID string) (*model.Checkpoint, error) {
	return m.storage.GetActiveCheckpoint(ctx, m.scope, channelID)
}

// Close ends a checkpoint and returns its final summary.
func (m *CheckpointManager) Close(ctx context.Context, checkpointID int64, endMarker model.Marker) (*model.Summary, error) {
	cp, err := m.storage.CloseCheckpoint(ctx, checkpointID, endMarker)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Closed checkpoint", "checkpoint", cp.ID, "end_marker", endMarker)
	return m.summarize(ctx, *cp)
}

// End closes whichever checkpoint is open for channelID.
func (m *CheckpointManager) End(ctx context.Context, channelID string, endMarker model.Marker) (*model.Summary, error) {
	cp, err := m.Active(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return m.Close(ctx, cp.ID, endMarker)
}

// Status summarizes the open checkpoint for channelID.
func (m *CheckpointManager) Status(ctx context.Context, channelID string) (*model.Summary, error) {
	cp, err := m.Active(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return m.summarize(ctx, *cp)
}

// Summary summarizes any checkpoint by id.
func (m *CheckpointManager) Summary(ctx context.Context, checkpointID int64) (*model.Summary, error) {
	cp, err := m.storage.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	return m.summarize(ctx, *cp)
}

// Undo deletes the most recent checkpoint if it is still open and empty.
// A checkpoint holding receipts is kept and common.ErrHasReceipts returned.
func (m *CheckpointManager) Undo(ctx context.Context, channelID string) (*model.Checkpoint, error) {
	cp, err := m.storage.GetLatestCheckpoint(ctx, m.scope, channelID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.ErrNothingToUndo
	}
	if err != nil {
		return nil, err
	}
	if !cp.IsOpen() {
		return nil, common.NewCheckpointError(common.ErrNothingToUndo, cp.ID)
	}

	err = m.storage.DeleteCheckpointIfEmpty(ctx, cp.ID)
	switch {
	case err == nil:
		m.logger.Info("Undid checkpoint", "checkpoint", cp.ID, "channel", channelID)
		return cp, nil
	case errors.Is(err, common.ErrNotFound):
		return nil, common.NewCheckpointError(common.ErrNothingToUndo, cp.ID)
	default:
		return cp, err
	}
}

// DeleteReceipt removes the receipt at a 1-based position in the open
// checkpoint for channelID.
func (m *CheckpointManager) DeleteReceipt(ctx context.Context, channelID string, position int) (*model.Receipt, error) {
	cp, err := m.Active(ctx, channelID)
	if err != nil {
		return nil, err
	}

	r, err := m.storage.DeleteReceiptByPosition(ctx, cp.ID, position)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Deleted receipt",
		"checkpoint", cp.ID,
		"position", position,
		"receipt", r.ID,
		"amount", r.Amount)
	return r, nil
}

func (m *CheckpointManager) summarize(ctx context.Context, cp model.Checkpoint) (*model.Summary, error) {
	receipts, err := m.storage.ListReceipts(ctx, cp.ID)
	if err != nil {
		return nil, err
	}
	users, err := m.storage.SummaryByUser(ctx, cp.ID)
	if err != nil {
		return nil, err
	}

	summary := BuildSummary(cp, receipts, users)
	return &summary, nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/milo/internal/common"
	"github.com/Veraticus/milo/internal/model"
	"github.com/Veraticus/milo/internal/service"
)

// BacklogConfig controls catch-up pacing.
type BacklogConfig struct {
	PageSize   int
	ChunkSize  int
	ChunkPause time.Duration
}

// DefaultBacklogConfig returns the default pacing.
func DefaultBacklogConfig() BacklogConfig {
	return BacklogConfig{
		PageSize:   50,
		ChunkSize:  20,
		ChunkPause: 2 * time.Second,
	}
}

// ProgressFunc is told how many messages a catch-up has handled so far.
type ProgressFunc func(handled int)

// Backlog pulls messages missed by the live path and reconciles them.
type Backlog struct {
	storage    service.Storage
	source     MessageSource
	reconciler *Reconciler
	sink       EventSink
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	cfg        BacklogConfig
}

// NewBacklog creates a catch-up runner.
func NewBacklog(storage service.Storage, source MessageSource, reconciler *Reconciler, sink EventSink, cfg BacklogConfig, logger *slog.Logger) *Backlog {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultBacklogConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaults.PageSize
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaults.ChunkSize
	}
	if cfg.ChunkPause < 0 {
		cfg.ChunkPause = 0
	}

	return &Backlog{
		storage:    storage,
		source:     source,
		reconciler: reconciler,
		sink:       sink,
		logger:     logger,
		sleep:      sleepContext,
		cfg:        cfg,
	}
}

// CatchUp reconciles everything after the channel cursor, a page at a time,
// in chunks separated by a pause. A channel without a cursor only gets its
// most recent page. When any message was handled, a notice is posted.
func (b *Backlog) CatchUp(ctx context.Context, channelID string, source Source, progress ProgressFunc) (ReconcileResult, error) {
	after, err := b.Cursor(ctx, channelID)
	if err != nil {
		return ReconcileResult{}, err
	}
	return b.CatchUpAfter(ctx, channelID, after, source, progress)
}

// CatchUpAfter is CatchUp from a cursor read earlier. Reading the cursor
// before live messages start flowing keeps them from hiding the gap. A run
// that reads through to the end releases any cursor hold it passed.
func (b *Backlog) CatchUpAfter(ctx context.Context, channelID string, after model.Marker, source Source, progress ProgressFunc) (ReconcileResult, error) {
	var total ReconcileResult
	contiguous := !after.IsZero()

	firstChunk := true
	for {
		page, err := b.source.FetchMessagesAfter(ctx, channelID, after, b.cfg.PageSize)
		if err != nil {
			return total, fmt.Errorf("failed to fetch messages: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for start := 0; start < len(page); start += b.cfg.ChunkSize {
			end := min(start+b.cfg.ChunkSize, len(page))

			if !firstChunk && b.cfg.ChunkPause > 0 {
				if err := b.sleep(ctx, b.cfg.ChunkPause); err != nil {
					return total, err
				}
			}
			firstChunk = false

			result, err := b.reconciler.Reconcile(ctx, channelID, page[start:end], source)
			total.merge(result)
			if total.RunID == uuid.Nil {
				total.RunID = result.RunID
			}
			if progress != nil {
				progress(total.Messages)
			}
			if err != nil {
				return total, err
			}
		}

		if after.IsZero() || len(page) < b.cfg.PageSize {
			break
		}
		after = page[len(page)-1].ID
	}

	if contiguous && !total.LastMarker.IsZero() {
		if _, err := b.storage.ReleaseCursor(ctx, channelID, total.LastMarker); err != nil {
			return total, fmt.Errorf("failed to release cursor: %w", err)
		}
	}

	if total.Messages > 0 && b.sink != nil {
		if err := b.sink.BacklogCompleted(ctx, channelID, total); err != nil {
			b.logger.Warn("Failed to post backlog notice", "channel", channelID, "error", err)
		}
	}

	b.logger.Info("Backlog catch-up finished",
		"channel", channelID,
		"source", source,
		"messages", total.Messages,
		"receipts", total.Receipts,
		"failures", total.Failures)

	return total, nil
}

// Cursor returns the marker a catch-up would start after. It is empty for a
// channel that has never been reconciled.
func (b *Backlog) Cursor(ctx context.Context, channelID string) (model.Marker, error) {
	cursor, err := b.storage.GetCursor(ctx, channelID)
	if errors.Is(err, common.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load cursor: %w", err)
	}
	return cursor.LastMarker, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

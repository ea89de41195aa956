package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Veraticus/milo/internal/common"
	"github.com/Veraticus/milo/internal/llm"
	"github.com/Veraticus/milo/internal/model"
	"github.com/Veraticus/milo/internal/service"
)

// Reconciler turns inbound messages into receipts. Every delivery path
// funnels through it, and replaying a message is harmless: receipts are
// keyed by (checkpoint, message, attachment) and the channel cursor only
// moves forward.
type Reconciler struct {
	storage       service.Storage
	extractor     Extractor
	disambiguator *Disambiguator
	sink          EventSink
	logger        *slog.Logger
	channels      map[string]*sync.Mutex
	scope         service.CheckpointScope
	botUserID     string
	mu            sync.Mutex
}

// NewReconciler wires the reconcile pipeline. disambiguator may be nil, in
// which case text messages are ignored.
func NewReconciler(storage service.Storage, extractor Extractor, disambiguator *Disambiguator, sink EventSink, scope service.CheckpointScope, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if scope == "" {
		scope = service.ScopePerChannel
	}
	return &Reconciler{
		storage:       storage,
		extractor:     extractor,
		disambiguator: disambiguator,
		sink:          sink,
		logger:        logger,
		scope:         scope,
		channels:      make(map[string]*sync.Mutex),
	}
}

// SetBotUserID sets the identity whose messages are never reconciled.
func (r *Reconciler) SetBotUserID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.botUserID = id
}

func (r *Reconciler) botID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.botUserID
}

// lockChannel serializes batches per channel so that concurrent delivery
// paths do not both act on the same message.
func (r *Reconciler) lockChannel(channelID string) func() {
	r.mu.Lock()
	lock, ok := r.channels[channelID]
	if !ok {
		lock = &sync.Mutex{}
		r.channels[channelID] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Reconcile processes messages for one channel in marker order. Every
// message given is handled, including ones behind the cursor: receipts are
// keyed by (checkpoint, message, attachment), so a replay records nothing
// new. The cursor advances after each message. An infrastructure error stops
// the batch and holds the cursor before the failed message, so a later
// catch-up retries it even if the live path moves on.
func (r *Reconciler) Reconcile(ctx context.Context, channelID string, messages []model.Message, source Source) (ReconcileResult, error) {
	result := ReconcileResult{RunID: uuid.New()}
	logger := r.logger.With("run_id", result.RunID, "source", source, "channel", channelID)

	if len(messages) == 0 {
		return result, nil
	}

	unlock := r.lockChannel(channelID)
	defer unlock()

	sorted := make([]model.Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ID.Compare(sorted[j].ID) < 0
	})

	for _, msg := range sorted {
		outcome, err := r.reconcileMessage(ctx, channelID, msg, logger)
		result.Receipts += outcome.receipts
		result.Failures += outcome.failures
		if err != nil {
			logger.Error("Reconcile aborted", "message", msg.ID, "error", err)
			r.holdCursor(ctx, channelID, msg.ID, logger)
			return result, fmt.Errorf("message %s: %w", msg.ID, err)
		}

		if _, err := r.storage.AdvanceCursor(ctx, channelID, msg.ID); err != nil {
			return result, fmt.Errorf("failed to advance cursor: %w", err)
		}
		result.LastMarker = msg.ID
		result.Messages++
	}

	logger.Info("Reconciled messages",
		"messages", result.Messages,
		"receipts", result.Receipts,
		"failures", result.Failures,
		"last_marker", result.LastMarker)

	return result, nil
}

// holdCursor pins the cursor before a failed message. The write outlives a
// cancelled batch context.
func (r *Reconciler) holdCursor(ctx context.Context, channelID string, marker model.Marker, logger *slog.Logger) {
	pinned, err := r.storage.HoldCursor(context.WithoutCancel(ctx), channelID, marker)
	switch {
	case err != nil:
		logger.Error("Failed to hold cursor", "message", marker, "error", err)
	case !pinned:
		logger.Warn("Cursor cannot be held before the failed message", "message", marker)
	}
}

type messageOutcome struct {
	receipts int
	failures int
}

func (r *Reconciler) reconcileMessage(ctx context.Context, channelID string, msg model.Message, logger *slog.Logger) (messageOutcome, error) {
	var outcome messageOutcome

	if msg.Author.Bot || (msg.Author.ID != "" && msg.Author.ID == r.botID()) {
		return outcome, nil
	}

	var images []model.Attachment
	for _, a := range msg.Attachments {
		if a.IsImage() {
			images = append(images, a)
		}
	}

	if len(images) == 0 {
		if r.disambiguator == nil || strings.TrimSpace(msg.Content) == "" {
			return outcome, nil
		}
		created, err := r.disambiguator.Handle(ctx, channelID, msg)
		if created {
			outcome.receipts++
		}
		return outcome, err
	}

	cp, err := r.storage.GetActiveCheckpoint(ctx, r.scope, channelID)
	if errors.Is(err, common.ErrNoActiveCheckpoint) {
		logger.Debug("No active checkpoint, ignoring images", "message", msg.ID)
		return outcome, nil
	}
	if err != nil {
		return outcome, err
	}

	for _, att := range images {
		ref := att.Ref()

		exists, err := r.storage.HasReceipt(ctx, cp.ID, msg.ID, ref)
		if err != nil {
			return outcome, err
		}
		if exists {
			continue
		}

		extraction := r.extractor.ExtractAmount(ctx, llm.ImageRef{Key: ref, URL: att.URL})
		switch extraction.Kind {
		case llm.KindAmount:
			receipt := model.Receipt{
				CheckpointID:  cp.ID,
				UserID:        msg.Author.ID,
				UserName:      msg.Author.Name(),
				ChannelID:     channelID,
				MessageID:     msg.ID,
				AttachmentRef: ref,
				Amount:        extraction.Amount,
			}
			_, created, err := r.storage.InsertReceiptIfAbsent(ctx, &receipt)
			if err != nil {
				return outcome, err
			}
			if !created {
				continue
			}
			outcome.receipts++
			if err := r.sink.ReceiptRecorded(ctx, ReceiptRecorded{Receipt: receipt}); err != nil {
				return outcome, fmt.Errorf("failed to acknowledge receipt: %w", err)
			}

		case llm.KindNotAReceipt, llm.KindFailure:
			kind := ReplyNotReceipt
			if extraction.Kind == llm.KindFailure {
				kind = ReplyUnreadable
				outcome.failures++
				logger.Warn("Could not read receipt",
					"message", msg.ID,
					"attachment", ref,
					"reason", extraction.Reason)
			}

			comment := r.extractor.ExtractComment(ctx, llm.ImageRef{Key: ref, URL: att.URL})
			if err := r.sink.Reply(ctx, Reply{
				Kind:      kind,
				ChannelID: channelID,
				ReplyTo:   msg.ID,
				Text:      comment,
			}); err != nil {
				return outcome, fmt.Errorf("failed to reply: %w", err)
			}
		}
	}

	return outcome, nil
}

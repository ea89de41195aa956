package bot

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Veraticus/milo/internal/discord"
	"github.com/Veraticus/milo/internal/engine"
	"github.com/Veraticus/milo/internal/model"
)

var _ discord.EventHandler = (*Handler)(nil)

// Responder answers slash commands.
type Responder interface {
	RespondToInteraction(ctx context.Context, interaction discord.Interaction, content string, ephemeral bool) error
}

// Handler routes gateway events into the engine.
type Handler struct {
	reconciler *engine.Reconciler
	backlog    *engine.Backlog
	dispatcher *Dispatcher
	responder  Responder
	logger     *slog.Logger
	channelID  string
	catchUps   sync.WaitGroup
}

// NewHandler creates the live-path handler. When channelID is set, events
// from other channels are ignored. backlog may be nil.
func NewHandler(channelID string, reconciler *engine.Reconciler, backlog *engine.Backlog, dispatcher *Dispatcher, responder Responder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		reconciler: reconciler,
		backlog:    backlog,
		dispatcher: dispatcher,
		responder:  responder,
		logger:     logger,
		channelID:  channelID,
	}
}

func (h *Handler) watches(channelID string) bool {
	return h.channelID == "" || h.channelID == channelID
}

// HandleReady records the bot identity and catches up on missed messages.
// The cursor is read before returning, ahead of the session's live
// messages; the catch-up itself runs in the background.
func (h *Handler) HandleReady(ctx context.Context, ready discord.Ready) {
	h.reconciler.SetBotUserID(ready.User.ID)

	if h.backlog == nil || h.channelID == "" {
		return
	}

	after, err := h.backlog.Cursor(ctx, h.channelID)
	if err != nil {
		h.logger.Error("Backlog catch-up failed", "channel", h.channelID, "error", err)
		return
	}

	h.catchUps.Add(1)
	go func() {
		defer h.catchUps.Done()
		if _, err := h.backlog.CatchUpAfter(ctx, h.channelID, after, engine.SourceBacklog, nil); err != nil {
			h.logger.Error("Backlog catch-up failed", "channel", h.channelID, "error", err)
		}
	}()
}

// Wait blocks until catch-ups started by HandleReady have finished.
func (h *Handler) Wait() {
	h.catchUps.Wait()
}

// HandleMessage reconciles a newly posted message.
func (h *Handler) HandleMessage(ctx context.Context, msg discord.Message) {
	if !h.watches(msg.ChannelID) {
		return
	}

	if _, err := h.reconciler.Reconcile(ctx, msg.ChannelID, []model.Message{msg.ToModel()}, engine.SourceLive); err != nil {
		h.logger.Error("Live reconcile failed; cursor held for the next catch-up",
			"channel", msg.ChannelID,
			"message", msg.ID,
			"error", err)
	}
}

// HandleInteraction runs a slash command and answers it.
func (h *Handler) HandleInteraction(ctx context.Context, interaction discord.Interaction) {
	if interaction.Type != discord.InteractionApplicationCommand {
		return
	}

	var resp Response
	if h.watches(interaction.ChannelID) {
		cmd := Command{
			Name:      interaction.CommandName(),
			ChannelID: interaction.ChannelID,
			UserID:    interaction.Invoker().ID,
			Marker:    model.Marker(interaction.ID),
		}
		if pos, ok := interaction.IntOption("position"); ok {
			cmd.Position = pos
		}
		resp = h.dispatcher.Dispatch(ctx, cmd)
	} else {
		resp = Response{Text: WrongChannelText(), Ephemeral: true}
	}

	if err := h.responder.RespondToInteraction(ctx, interaction, resp.Text, resp.Ephemeral); err != nil {
		h.logger.Error("Failed to answer command",
			"command", interaction.CommandName(),
			"error", err)
	}
}

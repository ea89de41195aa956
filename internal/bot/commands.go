package bot

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Veraticus/milo/internal/common"
	"github.com/Veraticus/milo/internal/engine"
	"github.com/Veraticus/milo/internal/model"
)

// Command names.
const (
	CommandStart  = "start"
	CommandEnd    = "end"
	CommandStatus = "status"
	CommandUndo   = "undo"
	CommandDelete = "delete"
)

// Command is a parsed slash command.
type Command struct {
	Name      string
	ChannelID string
	UserID    string
	// Marker is the transport id of the invocation; it stamps checkpoint
	// boundaries.
	Marker   model.Marker
	Position int
}

// Response is what to answer a command with.
type Response struct {
	Text      string
	Ephemeral bool
}

// Dispatcher maps commands onto checkpoint operations.
type Dispatcher struct {
	checkpoints *engine.CheckpointManager
	logger      *slog.Logger
	adminUserID string
}

// NewDispatcher creates a dispatcher. When adminUserID is set, only that
// user may delete receipts.
func NewDispatcher(checkpoints *engine.CheckpointManager, adminUserID string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{checkpoints: checkpoints, adminUserID: adminUserID, logger: logger}
}

// Dispatch runs cmd and returns the text to answer with. Rejections are
// answered, never returned as errors.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) Response {
	logger := d.logger.With("command", cmd.Name, "channel", cmd.ChannelID, "user", cmd.UserID)

	switch cmd.Name {
	case CommandStart:
		cp, err := d.checkpoints.Start(ctx, cmd.ChannelID, cmd.Marker)
		switch {
		case err == nil:
			return Response{Text: StartedText(cp.ID)}
		case errors.Is(err, common.ErrAlreadyActive):
			id, _ := common.CheckpointIDFrom(err)
			return Response{Text: AlreadyActiveText(id)}
		}
		return d.failed(logger, err)

	case CommandEnd:
		summary, err := d.checkpoints.End(ctx, cmd.ChannelID, cmd.Marker)
		switch {
		case err == nil:
			return Response{Text: EndedText(*summary)}
		case errors.Is(err, common.ErrNoActiveCheckpoint):
			return Response{Text: EndNoCheckpointText()}
		}
		return d.failed(logger, err)

	case CommandStatus:
		summary, err := d.checkpoints.Status(ctx, cmd.ChannelID)
		switch {
		case err == nil:
			return Response{Text: StatusText(*summary)}
		case errors.Is(err, common.ErrNoActiveCheckpoint):
			return Response{Text: StatusNoCheckpointText()}
		}
		return d.failed(logger, err)

	case CommandUndo:
		cp, err := d.checkpoints.Undo(ctx, cmd.ChannelID)
		switch {
		case err == nil:
			return Response{Text: UndoneText(cp.ID)}
		case errors.Is(err, common.ErrHasReceipts):
			id, _ := common.CheckpointIDFrom(err)
			return Response{Text: UndoHasReceiptsText(id)}
		case errors.Is(err, common.ErrNothingToUndo):
			return Response{Text: UndoNothingText()}
		}
		return d.failed(logger, err)

	case CommandDelete:
		if d.adminUserID != "" && cmd.UserID != d.adminUserID {
			return Response{Text: DeleteForbiddenText(), Ephemeral: true}
		}
		r, err := d.checkpoints.DeleteReceipt(ctx, cmd.ChannelID, cmd.Position)
		switch {
		case err == nil:
			return Response{Text: DeletedText(cmd.Position, *r)}
		case errors.Is(err, common.ErrNoActiveCheckpoint):
			return Response{Text: StatusNoCheckpointText()}
		case errors.Is(err, common.ErrPositionNotFound):
			return Response{Text: PositionNotFoundText(cmd.Position), Ephemeral: true}
		}
		return d.failed(logger, err)
	}

	return Response{Text: UnknownCommandText(), Ephemeral: true}
}

func (d *Dispatcher) failed(logger *slog.Logger, err error) Response {
	logger.Error("Command failed", "error", err)
	return Response{Text: InternalErrorText(), Ephemeral: true}
}

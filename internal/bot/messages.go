// Package bot adapts the engine to the chat transport: it turns slash
// commands into checkpoint operations and engine events into messages.
package bot

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/milo/internal/engine"
	"github.com/Veraticus/milo/internal/model"
)

// FormatAmount renders an amount the Indonesian way: Rp125.000, with a
// comma before any fractional part.
func FormatAmount(d decimal.Decimal) string {
	negative := d.IsNegative()
	d = d.Abs().Round(2)

	whole := d.Truncate(0)
	out := "Rp" + groupThousands(whole.String())

	if frac := d.Sub(whole); !frac.IsZero() {
		out += "," + strings.TrimPrefix(frac.StringFixed(2), "0.")
	}
	if negative {
		out = "-" + out
	}
	return out
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}

	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// StartedText confirms a new checkpoint.
func StartedText(checkpointID int64) string {
	return fmt.Sprintf("Fine. I'm keeping track.\nCheckpoint **#%d** started.\nSend the receipts.", checkpointID)
}

// AlreadyActiveText rejects a start while a checkpoint is open.
func AlreadyActiveText(checkpointID int64) string {
	return fmt.Sprintf("Checkpoint **#%d** is still running. Don't fuss. Use /end first.", checkpointID)
}

// EndNoCheckpointText rejects an end with nothing open.
func EndNoCheckpointText() string {
	return "Nothing's running.\nUse /start first."
}

// EndedText reports a closed checkpoint.
func EndedText(summary model.Summary) string {
	id := summary.Checkpoint.ID
	if summary.Empty() {
		return fmt.Sprintf("Checkpoint **#%d** closed.\nNo receipts. Ugh.", id)
	}
	return fmt.Sprintf("Done.\nCheckpoint **#%d** closed.\n%s\n\nTotal: [%s]",
		id, SummaryDetails(summary), FormatAmount(summary.GrandTotal))
}

// StatusNoCheckpointText answers status with nothing open.
func StatusNoCheckpointText() string {
	return "Not running.\n/start first."
}

// StatusText reports the running totals of an open checkpoint.
func StatusText(summary model.Summary) string {
	id := summary.Checkpoint.ID
	if summary.Empty() {
		return fmt.Sprintf("Checkpoint **#%d** is still running.\nNo receipts yet.", id)
	}
	return fmt.Sprintf("Checkpoint **#%d** is still running.\n%s\n\nRunning total: [%s]",
		id, SummaryDetails(summary), FormatAmount(summary.GrandTotal))
}

// UndoNothingText answers an undo with nothing to remove.
func UndoNothingText() string {
	return "Nothing to delete.\nEmpty."
}

// UndoHasReceiptsText refuses to undo a checkpoint that is in use.
func UndoHasReceiptsText(checkpointID int64) string {
	return fmt.Sprintf("Checkpoint **#%d** already has receipts. Not deleting that.\nUse /end instead.", checkpointID)
}

// UndoneText confirms an undo.
func UndoneText(checkpointID int64) string {
	return fmt.Sprintf("Checkpoint **#%d** deleted.\nPretend it never happened.", checkpointID)
}

// DeletedText confirms a receipt deletion.
func DeletedText(position int, r model.Receipt) string {
	return fmt.Sprintf("Receipt %d deleted: **%s** %s", position, r.UserName, FormatAmount(r.Amount))
}

// PositionNotFoundText rejects a deletion at an empty position.
func PositionNotFoundText(position int) string {
	return fmt.Sprintf("There's no receipt %d. Check /status.", position)
}

// DeleteForbiddenText rejects a deletion from a non-admin.
func DeleteForbiddenText() string {
	return "Only the admin gets to delete receipts."
}

// UnknownCommandText answers a command milo does not know.
func UnknownCommandText() string {
	return "What is that.\nI don't get it."
}

// InternalErrorText answers when storage or the transport failed.
func InternalErrorText() string {
	return "Something broke. Try again in a bit."
}

// AcknowledgedText confirms a recorded receipt.
func AcknowledgedText(r model.Receipt) string {
	text := fmt.Sprintf("Recorded.\n#%d **%s** %s\nCheckpoint #%d",
		r.ID, r.UserName, FormatAmount(r.Amount), r.CheckpointID)
	if r.Description != "" {
		text += fmt.Sprintf(" (%s)", r.Description)
	}
	return text
}

// ReplyText renders an engine reply.
func ReplyText(reply engine.Reply) string {
	switch reply.Kind {
	case engine.ReplyClarify:
		if reply.Text != "" {
			return reply.Text
		}
		return fmt.Sprintf("What was the %s for?", FormatAmount(reply.Amount))
	case engine.ReplyNoCheckpoint:
		return fmt.Sprintf("No checkpoint is running, so %s goes nowhere.\n/start first.", FormatAmount(reply.Amount))
	case engine.ReplyPendingDropped:
		return fmt.Sprintf("The checkpoint closed before you told me what %s was for. Dropped it.", FormatAmount(reply.Amount))
	default:
		return reply.Text
	}
}

// BacklogText summarizes a catch-up run.
func BacklogText(result engine.ReconcileResult) string {
	lines := []string{
		"**Backlog Processing Complete**",
		fmt.Sprintf("Processed %d missed message(s) during downtime", result.Messages),
		fmt.Sprintf("%d receipt(s) successfully added", result.Receipts),
	}
	if result.Failures > 0 {
		lines = append(lines, fmt.Sprintf("%d error(s) encountered", result.Failures))
	}
	return strings.Join(lines, "\n")
}

// SummaryDetails lists per-user totals followed by the numbered receipts.
// The numbers are the positions /delete accepts.
func SummaryDetails(summary model.Summary) string {
	lines := []string{"**Who Spent What:**"}
	for _, u := range summary.Users {
		lines = append(lines, fmt.Sprintf("- **%s**: %s", u.UserName, FormatAmount(u.Total)))
	}

	lines = append(lines, "", "**Receipt Breakdown:**")
	for i, r := range summary.Receipts {
		line := fmt.Sprintf("%d. %s: %s", i+1, r.UserName, FormatAmount(r.Amount))
		if r.Description != "" {
			line += fmt.Sprintf(" (%s)", r.Description)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// WrongChannelText answers a command sent outside the receipts channel.
func WrongChannelText() string {
	return "Not here. I only count receipts in my own channel."
}

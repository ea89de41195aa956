package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Veraticus/milo/internal/bot"
	"github.com/Veraticus/milo/internal/cli"
	"github.com/Veraticus/milo/internal/common"
)

func receiptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "Inspect and correct receipts in the open checkpoint",
	}

	cmd.PersistentFlags().String("channel", "", "channel id (default: discord.channel_id)")

	cmd.AddCommand(listReceiptsCmd())
	cmd.AddCommand(deleteReceiptCmd())

	return cmd
}

func listReceiptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List receipts with their positions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd, func(l *ledger, channelID string) error {
				out := cmd.OutOrStdout()
				summary, err := l.checkpoints.Status(cmd.Context(), channelID)
				if errors.Is(err, common.ErrNoActiveCheckpoint) {
					return writeLine(out, cli.FormatInfo("No active checkpoint"))
				}
				if err != nil {
					return err
				}
				if summary.Empty() {
					return writeLine(out, cli.FormatInfo(fmt.Sprintf("Checkpoint #%d has no receipts yet", summary.Checkpoint.ID)))
				}
				return writeLine(out, cli.ReceiptTable(summary.Receipts))
			})
		},
	}
}

func deleteReceiptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <position>",
		Short: "Delete the receipt at a position shown by 'receipts list'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			position, err := strconv.Atoi(args[0])
			if err != nil || position < 1 {
				return fmt.Errorf("position must be a positive number, got %q", args[0])
			}

			return withLedger(cmd, func(l *ledger, channelID string) error {
				out := cmd.OutOrStdout()
				l.autoBackup(cmd, "delete")
				r, err := l.checkpoints.DeleteReceipt(cmd.Context(), channelID, position)
				switch {
				case err == nil:
					return writeLine(out, cli.FormatSuccess(fmt.Sprintf("Deleted receipt #%d (%s)", position, bot.FormatAmount(r.Amount))))
				case errors.Is(err, common.ErrNoActiveCheckpoint):
					return writeLine(out, cli.FormatInfo("No active checkpoint"))
				case errors.Is(err, common.ErrPositionNotFound):
					return writeLine(out, cli.FormatWarning(fmt.Sprintf("No receipt at position %d", position)))
				}
				return err
			})
		},
	}
}

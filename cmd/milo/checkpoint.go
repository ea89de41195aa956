package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/milo/internal/cli"
	"github.com/Veraticus/milo/internal/common"
	"github.com/Veraticus/milo/internal/model"
)

func checkpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage accounting checkpoints",
		Long: `Start, end, inspect, and undo checkpoints from the terminal.

These mirror the /start, /end, /status, and /undo slash commands and write to
the same ledger the bot uses.`,
		Example: `  # Open a checkpoint in the configured channel
  milo checkpoint start

  # Show who spent what so far
  milo checkpoint status

  # Close it and print the final summary
  milo checkpoint end`,
	}

	cmd.PersistentFlags().String("channel", "", "channel id (default: discord.channel_id)")

	cmd.AddCommand(startCheckpointCmd())
	cmd.AddCommand(endCheckpointCmd())
	cmd.AddCommand(statusCheckpointCmd())
	cmd.AddCommand(undoCheckpointCmd())
	cmd.AddCommand(showCheckpointCmd())

	return cmd
}

// withLedger opens the ledger and resolves the channel for a checkpoint subcommand.
func withLedger(cmd *cobra.Command, fn func(l *ledger, channelID string) error) error {
	l, err := openLedger(cmd.Context())
	if err != nil {
		return err
	}
	defer l.Close()

	flag, _ := cmd.Flags().GetString("channel")
	channelID, err := l.channel(flag)
	if err != nil {
		return err
	}
	return fn(l, channelID)
}

func startCheckpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Open a checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd, func(l *ledger, channelID string) error {
				out := cmd.OutOrStdout()
				cp, err := l.checkpoints.Start(cmd.Context(), channelID, model.MarkerFromTime(time.Now()))
				switch {
				case err == nil:
					return writeLine(out, cli.FormatSuccess(fmt.Sprintf("Started checkpoint #%d", cp.ID)))
				case errors.Is(err, common.ErrAlreadyActive):
					id, _ := common.CheckpointIDFrom(err)
					return writeLine(out, cli.FormatWarning(fmt.Sprintf("Checkpoint #%d is already active", id)))
				}
				return err
			})
		},
	}
}

func endCheckpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end",
		Short: "Close the open checkpoint and print its summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd, func(l *ledger, channelID string) error {
				out := cmd.OutOrStdout()
				summary, err := l.checkpoints.End(cmd.Context(), channelID, model.MarkerFromTime(time.Now()))
				if errors.Is(err, common.ErrNoActiveCheckpoint) {
					return writeLine(out, cli.FormatWarning("No active checkpoint to end"))
				}
				if err != nil {
					return err
				}
				return writeLine(out, cli.RenderSummary(*summary))
			})
		},
	}
}

func statusCheckpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize the open checkpoint",
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
				return writeLine(out, cli.RenderSummary(*summary))
			})
		},
	}
}

func undoCheckpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo",
		Short: "Delete the latest checkpoint if it is open and empty",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd, func(l *ledger, channelID string) error {
				out := cmd.OutOrStdout()
				l.autoBackup(cmd, "undo")
				cp, err := l.checkpoints.Undo(cmd.Context(), channelID)
				switch {
				case err == nil:
					return writeLine(out, cli.FormatSuccess(fmt.Sprintf("Removed checkpoint #%d", cp.ID)))
				case errors.Is(err, common.ErrHasReceipts):
					id, _ := common.CheckpointIDFrom(err)
					return writeLine(out, cli.FormatWarning(fmt.Sprintf("Checkpoint #%d has receipts; end it instead", id)))
				case errors.Is(err, common.ErrNothingToUndo):
					return writeLine(out, cli.FormatInfo("Nothing to undo"))
				}
				return err
			})
		},
	}
}

func showCheckpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Summarize any checkpoint by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscan(args[0], &id); err != nil || id <= 0 {
				return fmt.Errorf("invalid checkpoint id %q", args[0])
			}

			l, err := openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer l.Close()

			summary, err := l.checkpoints.Summary(cmd.Context(), id)
			if errors.Is(err, common.ErrNotFound) {
				return fmt.Errorf("checkpoint #%d not found", id)
			}
			if err != nil {
				return err
			}
			return writeLine(cmd.OutOrStdout(), cli.RenderSummary(*summary))
		},
	}
}

func writeLine(w io.Writer, s string) error {
	_, err := fmt.Fprintln(w, s)
	return err
}

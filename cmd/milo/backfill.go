package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/milo/internal/cli"
	"github.com/Veraticus/milo/internal/engine"
)

func backfillCmd() *cobra.Command {
	var channel string

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Catch up on channel messages posted while the bot was offline",
		Long: `Fetch every message after the channel cursor and reconcile it, exactly as
the scheduled catch-up does. Safe to run while the bot is serving: messages
already recorded are skipped.`,
		Example: `  # Catch up the configured channel
  milo backfill

  # Catch up a specific channel
  milo backfill --channel 1100000000000000000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			channelID, err := rt.channel(channel)
			if err != nil {
				return err
			}

			interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
			ctx := interrupts.HandleInterrupts(cmd.Context(), "Run milo backfill again to resume from the cursor.")

			if err := rt.identify(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			progress := cli.NewProgress(cmd.ErrOrStderr(), "Catching up...")
			result, err := rt.backlog.CatchUp(ctx, channelID, engine.SourceManual, progress.Update)
			progress.Finish()
			if err != nil {
				if interrupts.WasInterrupted() {
					return nil
				}
				return fmt.Errorf("backfill failed: %w", err)
			}

			body := fmt.Sprintf("Run:         %s\nMessages:    %d\nReceipts:    %d\nUnreadable:  %d",
				result.RunID, result.Messages, result.Receipts, result.Failures)
			if !result.LastMarker.IsZero() {
				body += fmt.Sprintf("\nCursor:      %s", result.LastMarker)
			}
			_, err = fmt.Fprintln(out, cli.RenderBox(cli.FormatTitle("Backfill Complete"), body))
			return err
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "channel id (default: discord.channel_id)")

	return cmd
}

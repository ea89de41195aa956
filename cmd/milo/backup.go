package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Veraticus/milo/internal/cli"
	"github.com/Veraticus/milo/internal/storage"
)

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot and restore the ledger database",
		Long: `Create, list, restore, and delete ledger snapshots.

Snapshots live next to the database in a backups/ directory. milo also takes
an automatic snapshot before undoing a checkpoint or deleting a receipt from
the terminal, keeping the five most recent.`,
		Example: `  # Snapshot before settling up
  milo backup create --tag before-settle-up

  # See what is available
  milo backup list

  # Roll back (stop milo serve first)
  milo backup restore before-settle-up`,
	}

	cmd.AddCommand(createBackupCmd())
	cmd.AddCommand(listBackupsCmd())
	cmd.AddCommand(restoreBackupCmd())
	cmd.AddCommand(deleteBackupCmd())

	return cmd
}

func withBackups(cmd *cobra.Command, fn func(m *storage.BackupManager) error) error {
	l, err := openLedger(cmd.Context())
	if err != nil {
		return err
	}
	defer l.Close()

	manager, err := l.store.NewBackupManager()
	if err != nil {
		return fmt.Errorf("failed to create backup manager: %w", err)
	}
	return fn(manager)
}

func createBackupCmd() *cobra.Command {
	var tag, description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Snapshot the ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackups(cmd, func(m *storage.BackupManager) error {
				info, err := m.Create(cmd.Context(), tag, description)
				if errors.Is(err, storage.ErrBackupExists) {
					return fmt.Errorf("backup %q already exists", tag)
				}
				if err != nil {
					return err
				}

				body := fmt.Sprintf("Checkpoints: %d\nReceipts:    %d\nSize:        %s",
					info.Checkpoints(), info.Receipts(), formatBytes(info.FileSize))
				return writeLine(cmd.OutOrStdout(), cli.RenderBox(cli.FormatTitle("Backup "+info.ID), body))
			})
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "", "backup name (default: backup-<timestamp>)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "what the snapshot is for")

	return cmd
}

func listBackupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List ledger snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackups(cmd, func(m *storage.BackupManager) error {
				out := cmd.OutOrStdout()
				backups, err := m.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(backups) == 0 {
					return writeLine(out, cli.FormatInfo("No backups yet"))
				}

				var b strings.Builder
				w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tCREATED\tCHECKPOINTS\tRECEIPTS\tSIZE\tDESCRIPTION")
				for _, info := range backups {
					id := info.ID
					if info.IsAuto {
						id += " " + cli.SubtleStyle.Render("(auto)")
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
						id,
						info.CreatedAt.Local().Format("2006-01-02 15:04"),
						info.Checkpoints(),
						info.Receipts(),
						formatBytes(info.FileSize),
						info.Description)
				}
				_ = w.Flush()
				return writeLine(out, b.String())
			})
		},
	}
}

func restoreBackupCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Replace the ledger with a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withBackups(cmd, func(m *storage.BackupManager) error {
				out := cmd.OutOrStdout()
				if !force {
					info, err := m.Get(cmd.Context(), id)
					if err != nil {
						return err
					}
					return writeLine(out, cli.FormatWarning(fmt.Sprintf(
						"Restoring %s replaces the ledger with %d checkpoint(s) and %d receipt(s). Re-run with --force to continue.",
						id, info.Checkpoints(), info.Receipts())))
				}

				if _, err := m.AutoBackup(cmd.Context(), "restore"); err != nil {
					return err
				}
				if err := m.Restore(cmd.Context(), id); err != nil {
					return err
				}
				return writeLine(out, cli.FormatSuccess("Restored backup "+id))
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "restore without confirmation")

	return cmd
}

func deleteBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackups(cmd, func(m *storage.BackupManager) error {
				if err := m.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				return writeLine(cmd.OutOrStdout(), cli.FormatSuccess("Deleted backup "+args[0]))
			})
		},
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// autoBackup snapshots the ledger before a destructive edit. Failure is
// reported but does not block the edit.
func (l *ledger) autoBackup(cmd *cobra.Command, reason string) {
	manager, err := l.store.NewBackupManager()
	if err == nil {
		_, err = manager.AutoBackup(cmd.Context(), reason)
	}
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatWarning("Automatic backup failed: "+err.Error()))
	}
}

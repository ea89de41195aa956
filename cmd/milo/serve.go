package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/milo/internal/bot"
	"github.com/Veraticus/milo/internal/discord"
	"github.com/Veraticus/milo/internal/engine"
	"github.com/Veraticus/milo/internal/server"
	"github.com/Veraticus/milo/internal/storage"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the backlog schedule, and the HTTP endpoint",
		Long: `Connect to the Discord gateway and record receipts as they are posted.

A scheduled catch-up picks up anything the live connection missed, and the
HTTP endpoint lets an operator trigger one on demand.`,
		RunE: runServe,
	}

	cmd.Flags().Bool("no-http", false, "Do not start the HTTP endpoint")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	noHTTP, _ := cmd.Flags().GetBool("no-http")

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.identify(ctx); err != nil {
		return err
	}

	cfg := rt.cfg
	logger := slog.Default()

	dispatcher := bot.NewDispatcher(rt.checkpoints, cfg.Discord.AdminUserID, logger.With("component", "commands"))
	handler := bot.NewHandler(cfg.Discord.ChannelID, rt.reconciler, rt.backlog, dispatcher, rt.discord, logger.With("component", "handler"))

	gateway, err := discord.NewGateway(discord.GatewayConfig{
		Token: cfg.Discord.Token,
		URL:   cfg.Discord.GatewayURL,
	}, handler, logger.With("component", "gateway"))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return gateway.Run(ctx)
	})

	if cfg.Discord.ChannelID != "" {
		g.Go(func() error {
			scheduleBacklog(ctx, rt.backlog, cfg.Discord.ChannelID, cfg.Backlog.Interval, logger)
			return nil
		})
	} else {
		logger.Warn("No receipts channel configured; watching every channel and skipping scheduled catch-up")
	}

	if cfg.Backup.Interval > 0 {
		backups, err := rt.store.NewBackupManager()
		if err != nil {
			return fmt.Errorf("failed to create backup manager: %w", err)
		}
		g.Go(func() error {
			scheduleBackups(ctx, backups, cfg.Backup.Interval, logger)
			return nil
		})
	}

	if !noHTTP {
		srv := server.New(server.Config{
			Addr:      cfg.Server.Addr,
			ChannelID: cfg.Discord.ChannelID,
		}, rt.backlog, rt.checkpoints, logger.With("component", "http"))
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	logger.Info("milo is running",
		"channel", cfg.Discord.ChannelID,
		"scope", cfg.Ledger.Scope,
		"provider", cfg.LLM.Provider)

	err = g.Wait()
	handler.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// scheduleBacklog runs a catch-up every interval until ctx ends. Failures
// are logged and retried on the next tick.
func scheduleBacklog(ctx context.Context, backlog *engine.Backlog, channelID string, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := backlog.CatchUp(ctx, channelID, engine.SourceBacklog, nil)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("Scheduled catch-up failed", "channel", channelID, "error", err)
				}
				continue
			}
			logger.Debug("Scheduled catch-up finished",
				"channel", channelID,
				"messages", result.Messages,
				"receipts", result.Receipts)
		}
	}
}

// scheduleBackups snapshots the ledger every interval until ctx ends.
func scheduleBackups(ctx context.Context, backups *storage.BackupManager, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := backups.AutoBackup(ctx, "scheduled"); err != nil && ctx.Err() == nil {
				logger.Error("Scheduled backup failed", "error", err)
			}
		}
	}
}

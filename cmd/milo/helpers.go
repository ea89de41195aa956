package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/milo/internal/bot"
	"github.com/Veraticus/milo/internal/config"
	"github.com/Veraticus/milo/internal/discord"
	"github.com/Veraticus/milo/internal/engine"
	"github.com/Veraticus/milo/internal/llm"
	"github.com/Veraticus/milo/internal/storage"
)

var envKeyReplacer = strings.NewReplacer(".", "_", "-", "_")

// initStorage opens the ledger and brings its schema up to date.
func initStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// ledger is the storage-only wiring used by operator commands.
type ledger struct {
	cfg         *config.Config
	store       *storage.SQLiteStorage
	checkpoints *engine.CheckpointManager
}

func openLedger(ctx context.Context) (*ledger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store, err := initStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &ledger{
		cfg:         cfg,
		store:       store,
		checkpoints: engine.NewCheckpointManager(store, cfg.Ledger.Scope, slog.Default()),
	}, nil
}

func (l *ledger) Close() {
	if err := l.store.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
}

// channel resolves an explicit --channel flag against the configured one.
func (l *ledger) channel(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if err := l.cfg.RequireChannel(); err != nil {
		return "", err
	}
	return l.cfg.Discord.ChannelID, nil
}

// runtime is the full bot wiring: transport, models, and engine.
type runtime struct {
	*ledger
	discord    *discord.Client
	extractor  *llm.Extractor
	notifier   *bot.Notifier
	reconciler *engine.Reconciler
	backlog    *engine.Backlog
}

func newRuntime(ctx context.Context) (*runtime, error) {
	l, err := openLedger(ctx)
	if err != nil {
		return nil, err
	}
	rt, err := wireRuntime(ctx, l)
	if err != nil {
		l.Close()
		return nil, err
	}
	return rt, nil
}

func wireRuntime(ctx context.Context, l *ledger) (*runtime, error) {
	cfg := l.cfg
	logger := slog.Default()

	if err := cfg.RequireDiscord(); err != nil {
		return nil, err
	}
	if err := cfg.RequireLLM(); err != nil {
		return nil, err
	}

	dc, err := discord.NewClient(discord.ClientConfig{
		Token:         cfg.Discord.Token,
		ApplicationID: cfg.Discord.ApplicationID,
		BaseURL:       cfg.Discord.APIBase,
	}, logger.With("component", "discord"))
	if err != nil {
		return nil, err
	}

	client, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	limiter := llm.NewRateLimiter(cfg.LLM.RateLimit)
	extractor := llm.NewExtractor(client, nil, limiter, cfg.LLM, logger.With("component", "extractor"))
	analyzer := llm.NewAnalyzer(client, limiter, cfg.LLM, logger.With("component", "analyzer"))

	notifier := bot.NewNotifier(dc, logger.With("component", "notifier"))
	scope := cfg.Ledger.Scope
	disambiguator := engine.NewDisambiguator(l.store, analyzer, dc, notifier, scope, logger.With("component", "disambiguator"))
	reconciler := engine.NewReconciler(l.store, extractor, disambiguator, notifier, scope, logger.With("component", "reconciler"))
	backlog := engine.NewBacklog(l.store, dc, reconciler, notifier, engine.BacklogConfig{
		PageSize:   cfg.Backlog.PageSize,
		ChunkSize:  cfg.Backlog.ChunkSize,
		ChunkPause: cfg.Backlog.ChunkPause,
	}, logger.With("component", "backlog"))

	return &runtime{
		ledger:     l,
		discord:    dc,
		extractor:  extractor,
		notifier:   notifier,
		reconciler: reconciler,
		backlog:    backlog,
	}, nil
}

func (r *runtime) Close() {
	r.extractor.Close()
	r.ledger.Close()
}

// identify tells the reconciler which messages are its own.
func (r *runtime) identify(ctx context.Context) error {
	me, err := r.discord.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch bot user: %w", err)
	}
	r.reconciler.SetBotUserID(me.ID)
	return nil
}

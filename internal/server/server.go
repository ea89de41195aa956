// Package server exposes a small HTTP surface for operators: a manual
// catch-up trigger, a health check, and the active checkpoint summary.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/milo/internal/common"
	"github.com/Veraticus/milo/internal/engine"
	"github.com/Veraticus/milo/internal/model"
)

// CatchUpper runs a backlog catch-up for a channel.
type CatchUpper interface {
	CatchUp(ctx context.Context, channelID string, source engine.Source, progress engine.ProgressFunc) (engine.ReconcileResult, error)
}

// StatusReader summarizes the open checkpoint of a channel.
type StatusReader interface {
	Status(ctx context.Context, channelID string) (*model.Summary, error)
}

// Config configures the HTTP server.
type Config struct {
	Addr      string
	ChannelID string
}

// Server is the operator HTTP surface.
type Server struct {
	router    *gin.Engine
	backlog   CatchUpper
	status    StatusReader
	logger    *slog.Logger
	addr      string
	channelID string
}

// New builds the server and its routes.
func New(cfg Config, backlog CatchUpper, status StatusReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		router:    router,
		backlog:   backlog,
		status:    status,
		logger:    logger,
		addr:      cfg.Addr,
		channelID: cfg.ChannelID,
	}

	router.GET("/healthz", s.health)
	router.POST("/process-messages", s.processMessages)
	router.GET("/checkpoints/active/summary", s.activeSummary)

	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) channel(c *gin.Context) (string, bool) {
	channelID := c.Query("channel")
	if channelID == "" {
		channelID = s.channelID
	}
	if channelID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "channel is required"})
		return "", false
	}
	return channelID, true
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) processMessages(c *gin.Context) {
	channelID, ok := s.channel(c)
	if !ok {
		return
	}

	result, err := s.backlog.CatchUp(c.Request.Context(), channelID, engine.SourceManual, nil)
	if err != nil {
		s.logger.Error("Manual catch-up failed", "channel", channelID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":   false,
			"error":     err.Error(),
			"processed": result.Messages,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"run_id":          result.RunID.String(),
		"processed":       result.Messages,
		"receipts":        result.Receipts,
		"failures":        result.Failures,
		"last_message_id": result.LastMarker.String(),
	})
}

func (s *Server) activeSummary(c *gin.Context) {
	channelID, ok := s.channel(c)
	if !ok {
		return
	}

	summary, err := s.status.Status(c.Request.Context(), channelID)
	if errors.Is(err, common.ErrNoActiveCheckpoint) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active checkpoint"})
		return
	}
	if err != nil {
		s.logger.Error("Failed to build summary", "channel", channelID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build summary"})
		return
	}

	c.JSON(http.StatusOK, toSummaryResponse(*summary))
}

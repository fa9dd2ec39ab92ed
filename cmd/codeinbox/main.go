package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mixelka/codeinbox/internal/config"
	"github.com/mixelka/codeinbox/internal/database"
	"github.com/mixelka/codeinbox/internal/retention"
	"github.com/mixelka/codeinbox/internal/server"
	"github.com/mixelka/codeinbox/internal/watcher"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting codeinbox", "account", cfg.EmailAddress, "imap", cfg.IMAPAddr)

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	// Create the mailbox watcher
	transport := watcher.NewIMAPTransport(watcher.IMAPConfig{
		Email:       cfg.EmailAddress,
		Password:    cfg.EmailPassword,
		Addr:        cfg.IMAPAddr,
		TLS:         cfg.IMAPTLS,
		DialTimeout: cfg.IMAPDialTimeout,
	}, logger)
	w := watcher.New(watcher.Config{Account: cfg.EmailAddress}, transport, db, logger)

	watcherDone := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(watcherDone)
	}()

	// Start retention cleanup: once now, then daily
	cleanup := retention.NewJob(db, cfg.RetentionDays, logger)
	if err := cleanup.Start(ctx); err != nil {
		logger.Error("failed to start retention job", "error", err)
		os.Exit(1)
	}

	// Start the query API
	srv := server.New(db, w, cfg.EmailAddress, logger)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}
	go func() {
		logger.Info("query API listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}

	cleanup.Stop()
	cancel()
	<-watcherDone

	logger.Info("codeinbox stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/poll-broadcaster/backend/api/handlers"
	"github.com/poll-broadcaster/backend/internal/broadcast"
	"github.com/poll-broadcaster/backend/internal/cleanup"
	"github.com/poll-broadcaster/backend/internal/config"
	"github.com/poll-broadcaster/backend/internal/db"
	"github.com/poll-broadcaster/backend/internal/driver"
	"github.com/poll-broadcaster/backend/internal/hub"
	"github.com/poll-broadcaster/backend/internal/repository"
	"github.com/poll-broadcaster/backend/internal/session"
	"github.com/poll-broadcaster/backend/internal/store"
	"github.com/poll-broadcaster/backend/internal/ws"
)

func main() {
	cfg := config.Load()

	log := newLogger(cfg.LogLevel)

	// Ensure data directories exist
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create database directory")
	}
	if err := os.MkdirAll(cfg.AuthDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create auth directory")
	}

	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.CloseDB()

	eventLog := repository.NewEventLogRepository(database)

	// Retention sweep for the operational log; failure is not fatal.
	sweepCtx, cancelSweep := context.WithTimeout(context.Background(), 10*time.Second)
	if removed, err := eventLog.DeleteOlderThan(sweepCtx, time.Now().Add(-cfg.LogRetention)); err != nil {
		log.Warn().Err(err).Msg("log retention sweep failed")
	} else if removed > 0 {
		log.Info().Int64("removed", removed).Msg("swept old log events")
	}
	cancelSweep()

	events := hub.New(log, eventLog, 0)
	artifacts := store.New(cfg.AuthDir, log)

	factory := driver.NewBridgeFactory(driver.BridgeConfig{
		Command:   cfg.BridgeCommand,
		AuthDir:   cfg.AuthDir,
		SessionID: cfg.SessionID,
	}, log)

	controller := session.NewController(session.Config{
		SessionID:       cfg.SessionID,
		LivenessTimeout: cfg.LivenessTimeout,
		RetryBackoff:    cfg.RetryBackoff,
		SettleDelay:     cfg.SettleDelay,
	}, factory, artifacts, events, log)

	dispatcher := broadcast.NewDispatcher(controller, events, log)

	wsHandler := ws.NewHandler(events, controller, dispatcher, log)
	statusHandler := handlers.NewStatusHandler(controller, eventLog)
	webSocketHandler := handlers.NewWebSocketHandler(wsHandler)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	r.GET("/health", statusHandler.Health)

	api := r.Group("/api")
	{
		statusHandler.RegisterRoutes(api)
		webSocketHandler.RegisterRoutes(api)
	}

	// Initialize the messaging client automatically shortly after startup,
	// mirroring an operator pressing "connect".
	time.AfterFunc(cfg.AutoInitDelay, func() {
		log.Info().Msg("auto-initializing messaging client")
		_ = controller.Init()
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		controller.Shutdown(ctx)
		cleanup.KillBrowserProcesses(ctx, log)
		cancel()

		db.CloseDB()
		os.Exit(0)
	}()

	log.Info().Str("port", cfg.Port).Msg("starting server")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
}

// newLogger builds the service logger with a human-readable console writer.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(cw).Level(lvl).With().Timestamp().Logger()
}

// corsMiddleware returns a CORS middleware for the local operator UI.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

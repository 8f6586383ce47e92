package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gdszyy/betradar-replay-tester/internal/config"
	"github.com/gdszyy/betradar-replay-tester/internal/control"
	"github.com/gdszyy/betradar-replay-tester/internal/ingest"
	"github.com/gdszyy/betradar-replay-tester/internal/metrics"
	"github.com/gdszyy/betradar-replay-tester/internal/playlist"
	"github.com/gdszyy/betradar-replay-tester/internal/server"
	"github.com/gdszyy/betradar-replay-tester/internal/session"
	"github.com/gdszyy/betradar-replay-tester/internal/store"
	"github.com/gdszyy/betradar-replay-tester/internal/ws"
)

func main() {
	os.Exit(run())
}

func run() int {
	// .env is optional; deployments usually set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("REPLAY_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("storagePath", cfg.Storage.Path),
		zap.String("controlURL", cfg.Betradar.BaseURL),
		zap.Int("nodeID", cfg.Betradar.NodeID),
		zap.String("feedHost", cfg.Feed.Host),
		zap.Strings("routingKeys", cfg.Feed.RoutingKeys),
	)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	db, err := store.Open(cfg.Storage.Path, logger)
	if err != nil {
		logger.Error("failed to open storage", zap.Error(err))
		return 1
	}
	defer db.Close()

	gw := store.NewGateway(db, logger, m)

	remote := control.NewClient(
		cfg.Betradar.BaseURL,
		cfg.Betradar.AccessToken,
		cfg.Betradar.Timeout(),
		cfg.Betradar.RatePerSecond,
		logger,
		m,
	)

	// Context for background components
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := ws.NewHub(logger, m)
	go hub.Run(ctx)

	sessions := session.NewManager(gw, remote, hub, logger)
	sessions.Restore(ctx)
	playlists := playlist.NewManager(gw, remote, logger)

	consumer := ingest.NewConsumer(ingest.Options{
		Host:        cfg.Feed.Host,
		Port:        cfg.Feed.Port,
		Token:       cfg.Betradar.AccessToken,
		VHost:       cfg.Feed.VHost,
		Exchange:    cfg.Feed.Exchange,
		RoutingKeys: cfg.Feed.RoutingKeys,
		Heartbeat:   cfg.Feed.Heartbeat(),
		DisableTLS:  cfg.Feed.DisableTLS,
		InsecureTLS: cfg.Feed.InsecureTLS,
	}, gw, hub, sessions, logger, m)

	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("feed consumer stopped", zap.Error(err))
		}
	}()

	srv := server.NewServer(cfg, sessions, playlists, gw, remote, hub, registry, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.NewRouter(srv),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Stop the hub and the feed consumer
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	return zapConfig.Build()
}

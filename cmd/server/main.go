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

	"github.com/serenamente/chatrelay/internal/identity"
	"github.com/serenamente/chatrelay/internal/server"
	"github.com/serenamente/chatrelay/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := server.LoadConfig()
	logger := server.NewLogger(cfg.Env)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(cfg server.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var profiles identity.ProfileStore
	if cfg.SQLitePath != "" {
		users, err := store.Open(cfg.SQLitePath, logger)
		if err != nil {
			return err
		}
		profiles = users
	}

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, all connections will be anonymous")
	}
	resolver := identity.NewJWTResolver(cfg.JWTSecret, profiles, logger)

	registry := server.NewRegistry()
	hub := server.NewHub(registry, logger)
	go hub.Run()

	if cfg.RedisAddr != "" {
		bridge, err := server.NewRedisBridge(ctx, cfg.RedisAddr, cfg.RedisDB, logger)
		if err != nil {
			return err
		}
		defer bridge.Close()
		go hub.RunBridge(ctx, bridge)
		logger.Info("redis bridge enabled", slog.String("addr", cfg.RedisAddr))
	}

	gateway := server.NewGateway(hub, resolver, cfg, logger)
	mux := server.SetupRoutes(gateway)
	httpServer := server.CreateServer(cfg.Port, mux)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, logger)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	_ = server.ShutdownServer(httpServer, shutdownTimeout, logger)
	return hub.Shutdown(shutdownTimeout)
}

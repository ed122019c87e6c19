package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"sketchboard/internal/app/boards"
	"sketchboard/internal/app/discovery"
	"sketchboard/internal/app/export"
	"sketchboard/internal/app/httpapi"
	"sketchboard/internal/config"
	"sketchboard/pkg/presence"
)

func main() {
	if err := run(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	discover := flag.Bool("discover", false, "list sketchboard servers on the local network and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	if *discover {
		return discovery.Browse(func(addr string) {
			fmt.Println(addr)
		})
	}

	logger.Info("starting", "config", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	boardStore, presenceFor, closeStore, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	manager := boards.NewManager(ctx, boards.ManagerOptions{
		Logger:   logger,
		Presence: presenceFor,
	})
	defer manager.Shutdown()
	manager.HubForBoard(boards.Lobby)

	router := httpapi.NewRouter(httpapi.Deps{
		Settings: httpapi.Settings{
			PublicWSURL: cfg.PublicWSURL,
			Canvas:      export.Canvas{Width: cfg.CanvasWidth, Height: cfg.CanvasHeight},
		},
		Boards:    boardStore,
		Hubs:      manager,
		StaticDir: cfg.StaticPath,
		Logger:    logger,
	})

	if cfg.MDNSEnabled {
		port, err := cfg.Port()
		if err != nil {
			return fmt.Errorf("mdns needs a numeric port in ADDR: %w", err)
		}
		server, err := discovery.Advertise(cfg.MDNSInstance, port)
		if err != nil {
			logger.Warn("mdns advertise failed", "err", err)
		} else {
			defer server.Shutdown()
			logger.Info("mdns advertising", "service", discovery.ServiceType, "port", port)
		}
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "static", cfg.StaticPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
	}
	return nil
}

func openStores(ctx context.Context, cfg config.Config) (boards.Store, boards.PresenceFactory, func(), error) {
	if cfg.Store == config.StoreMemory {
		return boards.NewMemoryStore(), nil, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, nil, fmt.Errorf("redis ping failed: %w", err)
	}

	presenceFor := func(code string) presence.Store {
		return presence.NewRedisStore(rdb, fmt.Sprintf("%s:board:%s", cfg.RedisPrefix, code))
	}
	closeFn := func() { _ = rdb.Close() }
	return boards.NewRedisStore(rdb, cfg.RedisPrefix), presenceFor, closeFn, nil
}

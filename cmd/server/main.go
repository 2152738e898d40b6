// Market simulation server — a multi-tenant stock-market simulator and
// trading-bot harness.
//
// Architecture:
//
//	main.go              — entry point: config, wiring, listener, signal handling
//	catalog/catalog.go   — static instrument catalog (~135 symbols across four types)
//	sim/price.go         — per-tick price evolution (noise, drift, momentum, jumps, news)
//	sim/session.go       — one private trading context: portfolio + market tape under a mutex
//	sim/trader.go        — order admission and execution with average-cost accounting
//	sim/registry.go      — concurrent session map, one clock scheduler per session
//	sim/snapshot.go      — closed snapshot schema with strict decoding
//	broadcast/hub.go     — push-channel fan-out with bounded per-connection queues
//	chat/room.go         — global tester/admin chat room with persisted history
//	save/store.go        — 9-char save codes mapping to named preset snapshots
//	auth/service.go      — accounts, HS256 bearer tokens, login throttling
//	storage/             — document store backends: memory, file, sqlite
//	api/                 — REST surface, websocket push channel, Prometheus metrics
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"marketsim/internal/api"
	"marketsim/internal/auth"
	"marketsim/internal/broadcast"
	"marketsim/internal/catalog"
	"marketsim/internal/chat"
	"marketsim/internal/config"
	"marketsim/internal/metrics"
	"marketsim/internal/save"
	"marketsim/internal/sim"
	"marketsim/internal/storage"
	"marketsim/pkg/types"
)

const (
	exitFailure  = 1
	exitBindFail = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("MARKETSIM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		return exitFailure
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		return exitFailure
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	docs := openStorage(cfg.Storage, logger)
	defer docs.Close()

	authSvc, err := auth.NewService(ctx, docs, []byte(cfg.Auth.JWTSecret), logger)
	if err != nil {
		logger.Error("failed to init auth", "error", err)
		return exitFailure
	}
	if err := authSvc.BootstrapAccount(ctx, cfg.Auth.AdminIdentifier, cfg.Auth.AdminPassword, types.RoleAdmin); err != nil {
		logger.Error("admin bootstrap failed", "error", err)
		return exitFailure
	}
	if err := authSvc.BootstrapAccount(ctx, cfg.Auth.TesterIdentifier, cfg.Auth.TesterPassword, types.RoleTester); err != nil {
		logger.Error("tester bootstrap failed", "error", err)
		return exitFailure
	}

	hub := broadcast.NewHub(logger, broadcast.WithQueueSize(cfg.Broadcast.QueueSize))
	metrics.RegisterBroadcastDropped(func() float64 { return float64(hub.Dropped()) })

	cat := catalog.Default()
	registry := sim.NewRegistry(ctx, cat, hub, logger)
	registry.OnClose = func(owner string, ret float64) {
		authSvc.RecordResult(context.Background(), owner, ret)
	}

	// Chat messages are stamped with the poster's simulated date when a
	// session is live.
	simTime := func(userID string) (time.Time, bool) {
		sess, ok := registry.Primary(userID)
		if !ok {
			return time.Time{}, false
		}
		return sess.SimTime(), true
	}
	room, err := chat.NewRoom(ctx, docs, hub, simTime, logger)
	if err != nil {
		logger.Error("failed to init chat", "error", err)
		return exitFailure
	}

	saves := save.NewStore(docs)
	server := api.NewServer(*cfg, authSvc, registry, hub, room, saves, cat, logger)

	ln, port, err := server.Listen()
	if err != nil {
		logger.Error("no bindable port", "error", err, "candidates", cfg.Server.BindPorts)
		return exitBindFail
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forced shutdown", "error", err)
		}
		registry.Shutdown()
		return nil
	})

	logger.Info("market simulation server started",
		"port", port,
		"instruments", cat.Len(),
		"storage", cfg.Storage.Backend,
		"speed", cfg.Sim.Speed,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server failed", "error", err)
		return exitFailure
	}
	logger.Info("shutdown complete")
	return 0
}

// openStorage opens the configured backend, degrading to the in-process
// store when a durable backend cannot be opened.
func openStorage(cfg config.StorageConfig, logger *slog.Logger) storage.DocStore {
	switch cfg.Backend {
	case "sqlite":
		store, err := storage.OpenSQLite(cfg.DBPath)
		if err != nil {
			logger.Warn("sqlite unavailable, falling back to memory store", "error", err, "path", cfg.DBPath)
			return storage.NewMemory()
		}
		logger.Info("sqlite store opened", "path", cfg.DBPath)
		return store
	case "file":
		store, err := storage.OpenFile(cfg.DataDir)
		if err != nil {
			logger.Warn("file store unavailable, falling back to memory store", "error", err, "dir", cfg.DataDir)
			return storage.NewMemory()
		}
		logger.Info("file store opened", "dir", cfg.DataDir)
		return store
	default:
		return storage.NewMemory()
	}
}

func parseLogLevel(level string) slog.Level {
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

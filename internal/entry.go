// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/mjelva/kbase/internal/api"
	"github.com/mjelva/kbase/internal/index"
	"github.com/mjelva/kbase/internal/mcpserver"
	"github.com/mjelva/kbase/internal/noteservice"
	"github.com/mjelva/kbase/internal/sse"
	"github.com/mjelva/kbase/internal/vault"
	"github.com/mjelva/kbase/internal/vaultpath"
)

// core bundles the wired vault components shared by the HTTP server and the
// MCP server.
type core struct {
	svc      *noteservice.Service
	idx      *index.Store
	scanner  *index.Scanner
	detector *index.Detector
	snap     *index.Snapshot // nil when persistence is disabled
	resolver *vaultpath.Resolver
}

// buildCore wires the vault storage, index, and staleness detector, warm
// starting from the snapshot when one exists. The snapshot is never trusted:
// the startup staleness check rebuilds from disk on any divergence.
func buildCore(cfg *Config, logger *slog.Logger) (*core, error) {
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	resolver, err := vaultpath.NewResolver(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init resolver: %w", err)
	}
	store, err := vault.NewFS(resolver)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	scanner := index.NewScanner(resolver, cfg.Vault.Excluded, logger)
	idx := index.NewStore()

	var snap *index.Snapshot
	if cfg.Index.SnapshotPath != "" {
		snap, err = index.OpenSnapshot(cfg.Index.SnapshotPath)
		if err != nil {
			logger.Warn("snapshot unavailable, starting cold", slog.String("error", err.Error()))
			snap = nil
		} else if nodes, loadErr := snap.Load(); loadErr != nil {
			logger.Warn("snapshot load failed, starting cold", slog.String("error", loadErr.Error()))
		} else if len(nodes) > 0 {
			idx.Rebuild(nodes)
			logger.Info("index warm started from snapshot", slog.Int("nodes", len(nodes)))
		}
	}

	detector := index.NewDetector(idx, scanner, snap, logger)
	if _, err := detector.RebuildIfStale(); err != nil {
		return nil, fmt.Errorf("initial index build: %w", err)
	}

	svc := noteservice.NewService(store, idx, scanner, detector, logger)
	return &core{
		svc:      svc,
		idx:      idx,
		scanner:  scanner,
		detector: detector,
		snap:     snap,
		resolver: resolver,
	}, nil
}

// Run starts the HTTP application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("snapshot_path", cfg.Index.SnapshotPath),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c, err := buildCore(cfg, logger)
	if err != nil {
		return err
	}
	if c.snap != nil {
		defer c.snap.Close()
	}

	// SSE broker fans bridge notifications out to clients.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	bridge := index.NewBridge(c.idx, c.scanner, logger, func(op index.Op, path, oldPath string) {
		broker.PublishNodeEvent(string(op), path, oldPath)
	})

	apiRouter := api.NewRouter(c.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	// The shutdown path cancels runCtx explicitly: errgroup only cancels its
	// context on the first non-nil error, and a clean SIGINT produces none,
	// which would leave the watcher and bridge blocked forever.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	g, gCtx := errgroup.WithContext(runCtx)

	// Filesystem watcher feeding the change-event bridge.
	events := make(chan index.Event, 256)
	g.Go(func() error {
		defer close(events)
		if err := index.Watch(gCtx, c.resolver, c.scanner, events, logger); err != nil {
			logger.Error("watcher failed", slog.String("error", err.Error()))
		}
		return nil
	})
	g.Go(func() error {
		bridge.Run(gCtx, events)
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")
		cancelRun()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	// Persist the final index state for the next warm start.
	if c.snap != nil {
		if err := c.snap.Save(c.idx); err != nil {
			logger.Warn("final snapshot save failed", slog.String("error", err.Error()))
		}
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP stdio server with the given options. Logs go to
// stderr because stdout carries the MCP transport.
func RunMCP(_ context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	c, err := buildCore(cfg, logger)
	if err != nil {
		return err
	}
	if c.snap != nil {
		defer c.snap.Close()
	}

	return mcpserver.New(c.svc).ServeStdio()
}

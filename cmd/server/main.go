// Medley Server
//
// Features:
// - Sandboxed virtual directory over a local media tree
// - Sorted, paginated listings with exclusion filtering
// - Image scaling, range streaming, document-to-HTML conversion
// - Background catalog synchronization into PostgreSQL
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/medleyfs/medley/internal/api"
	"github.com/medleyfs/medley/internal/catalog"
	"github.com/medleyfs/medley/internal/config"
	"github.com/medleyfs/medley/internal/listing"
	"github.com/medleyfs/medley/internal/logging"
	"github.com/medleyfs/medley/internal/media"
	"github.com/medleyfs/medley/internal/metrics"
	"github.com/medleyfs/medley/internal/policy"
	"github.com/medleyfs/medley/internal/sandbox"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Medley Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("root", cfg.MediaRoot))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sandbox the media root
	resolver, err := sandbox.New(cfg.MediaRoot)
	if err != nil {
		logging.Fatal("media root init failed", zap.Error(err))
	}

	filter := policy.New(cfg.ExcludedDirs, cfg.ExcludedFiles, cfg.ExcludedExtensions)

	// Initialize PostgreSQL
	logging.Info("connecting to PostgreSQL...")
	store, err := catalog.New(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	// Run migrations
	migrationsDir := findMigrationsDir()
	if migrationsDir != "" {
		logging.Info("running migrations...", zap.String("dir", migrationsDir))
		if err := store.Migrate(migrationsDir); err != nil {
			logging.Fatal("migration failed", zap.Error(err))
		}
	}

	// Start the catalog synchronizer
	synchronizer := catalog.NewSynchronizer(store, resolver, filter,
		cfg.PublicBaseURL, cfg.SyncWorkers, cfg.SyncQueueSize, cfg.SyncMaxDepth)
	synchronizer.Start(ctx)
	defer synchronizer.Stop()

	// Seed the catalog from the media root in the background
	go synchronizer.EnqueueTree(resolver.Root())

	engine := listing.New(resolver, filter, cfg.PublicBaseURL, cfg.MaxPageSize, cfg.SyncMaxDepth)
	pipeline := media.New(cfg.MaxScalePercent, cfg.MaxImageDimension, cfg.MaxImageSourceBytes, "medley")

	srv := api.NewServer(cfg, resolver, filter, engine, pipeline, store, synchronizer)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Start HTTP server
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	// Start periodic metrics update
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				store.UpdateConnectionMetrics()
			}
		}
	}()

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}

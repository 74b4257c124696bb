// synchub is the real-time synchronization server for project dashboards
// and background agent tasks: WebSocket fan-out, task lifecycle tracking,
// and bounded replay for reconnecting clients.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/medatlas/synchub/pkg/api"
	"github.com/medatlas/synchub/pkg/config"
	"github.com/medatlas/synchub/pkg/hub"
	"github.com/medatlas/synchub/pkg/store"
	"github.com/medatlas/synchub/pkg/tracker"
	"github.com/medatlas/synchub/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize the durable task archive. DB_DISABLED=true runs without
	// it: archived-task queries degrade, live behavior is unaffected.
	var (
		dbClient  *store.Client
		taskStore *store.TaskStore
	)
	if getEnv("DB_DISABLED", "false") != "true" {
		dbConfig, err := store.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = store.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		taskStore = store.NewTaskStore(dbClient)
		slog.Info("Connected to PostgreSQL task archive")
	} else {
		slog.Warn("Running without a database, terminal tasks are not archived")
	}

	// 3. Metrics registry
	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	hubMetrics := hub.NewMetrics(metricsReg)

	// 4. Build the hub
	registry := hub.NewRegistry(hub.RegistryConfig{
		PingInterval:  cfg.Realtime.PingInterval,
		IdleTimeout:   cfg.Realtime.IdleTimeout,
		WriteTimeout:  cfg.Realtime.WriteTimeout,
		SendQueueSize: cfg.Realtime.SendQueueSize,
	}, hubMetrics)

	buffer := hub.NewReplayBuffer(hub.ReplayConfig{
		MaxEvents: cfg.Replay.MaxEvents,
		MaxAge:    cfg.Replay.MaxAge,
	})

	// 5. Tracker publishes through the hub; the hub dispatches cancel_task
	// frames back into the tracker.
	var trk *tracker.Tracker

	subs := hub.NewSubscriptionTable(hub.AuthorizerFunc(
		func(_ context.Context, userID, topic string) error {
			return authorizeTopic(trk, userID, topic)
		}))
	gw := hub.NewHub(registry, subs, buffer, hubMetrics, nil)

	var archiver tracker.Archiver
	if taskStore != nil {
		archiver = taskStore
	}
	trk = tracker.NewTracker(tracker.Config{
		StallTimeout:   cfg.Tracker.StallTimeout,
		RetainTerminal: cfg.Tracker.RetainTerminal,
		SweepInterval:  cfg.Tracker.SweepInterval,
	}, gw.Broadcaster(), archiver)
	gw.SetTaskCanceller(trk)

	registry.Start(ctx)
	defer registry.Stop()
	trk.StartSweeper(ctx)
	defer trk.Stop()

	// 6. Archive retention job
	if taskStore != nil && cfg.Tracker.ArchivePurgeAfter > 0 {
		go runArchivePurge(ctx, taskStore, cfg.Tracker.ArchivePurgeAfter)
	}

	// 7. HTTP server
	var db *sql.DB
	if dbClient != nil {
		db = dbClient.DB()
	}
	httpServer := api.NewServer(gw, trk, api.Options{
		TaskStore:        taskStore,
		DB:               db,
		MetricsGatherer:  metricsReg,
		AllowedWSOrigins: cfg.Server.AllowedWSOrigins,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("synchub started successfully", "version", version.Full())

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: stop accepting requests, then drain connections.
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// authorizeTopic gates subscriptions. Task topics are restricted to the
// task's owner while the task is tracked; project access control belongs to
// the fronting application, which only forwards authenticated users here, so
// project topics admit any of them.
func authorizeTopic(trk *tracker.Tracker, userID, topic string) error {
	const taskPrefix = "task:"
	if len(topic) > len(taskPrefix) && topic[:len(taskPrefix)] == taskPrefix {
		owner, ok := trk.OwnerOf(topic[len(taskPrefix):])
		if ok && owner != userID {
			return hub.ErrForbidden
		}
	}
	return nil
}

// runArchivePurge deletes archived tasks past the retention window.
func runArchivePurge(ctx context.Context, taskStore *store.TaskStore, purgeAfter time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := taskStore.PurgeOlderThan(ctx, time.Now().Add(-purgeAfter))
			if err != nil {
				slog.Error("Archive purge failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("Archive purged", "deleted", n)
			}
		}
	}
}

// Package main is the entry point for the triage core service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-triage/internal/alerts"
	"storefront-triage/internal/catalog"
	"storefront-triage/internal/classify"
	"storefront-triage/internal/config"
	"storefront-triage/internal/engine"
	"storefront-triage/internal/eventlog"
	"storefront-triage/internal/gatekeeper"
	"storefront-triage/internal/incident"
	"storefront-triage/internal/metrics"
	"storefront-triage/internal/schema"
	"storefront-triage/internal/state"
	"storefront-triage/internal/storage"
	s3archive "storefront-triage/internal/storage/s3"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var version = "dev"

// logExecutor is the default remediation executor. It records the action and
// succeeds; real deployments swap in connectors for the firewall, identity,
// and rules services.
type logExecutor struct {
	logger *slog.Logger
}

func (e *logExecutor) Execute(_ context.Context, action gatekeeper.Action) error {
	e.logger.Info("executing remediation",
		"action_id", action.ID,
		"type", action.Type,
		"target", action.Target,
		"incident_id", action.IncidentID)
	return nil
}

func main() {
	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.BoolVar(&showVersion, "v", false, "Show version and exit (shorthand)")
	flag.Parse()

	if showVersion {
		fmt.Printf("triage-server %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"engine_interval", cfg.Engine.Interval,
		"kafka_enabled", cfg.Events.Kafka.Enabled,
		"redis_enabled", cfg.State.Redis.Enabled,
		"storage_enabled", cfg.Storage.Enabled,
		"archive_enabled", cfg.Archive.Enabled,
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		slog.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	validator := schema.NewValidator()

	// Notification center, optionally Redis-backed.
	var center *alerts.Center
	var stateStore *state.Store
	if cfg.State.Redis.Enabled {
		stateStore, err = state.New(ctx, cfg.State.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		center = alerts.NewCenterWithStore(ctx, stateStore)
	} else {
		center = alerts.NewCenter()
	}

	// Incident lifecycle with its optional sinks.
	incidents := incident.NewManager()

	var chClient *storage.Client
	var auditWriter *storage.AuditWriter
	if cfg.Storage.Enabled {
		chClient, err = storage.NewClient(cfg.Storage.ClickHouse)
		if err != nil {
			slog.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}
		if err := chClient.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare audit schema", "error", err)
			os.Exit(1)
		}
		auditWriter = storage.NewAuditWriter(chClient, cfg.Storage.BatchWriter)
		incidents.SetAuditSink(auditWriter)
		slog.Info("audit storage initialized", "hosts", cfg.Storage.ClickHouse.Hosts)
	}

	if cfg.Archive.Enabled {
		archiver, err := s3archive.NewArchiver(ctx, cfg.Archive)
		if err != nil {
			slog.Error("failed to initialize incident archive", "error", err)
			os.Exit(1)
		}
		incidents.SetArchiver(archiver)
		slog.Info("incident archive initialized", "bucket", cfg.Archive.Bucket)
	}

	// Event intake.
	buffer := eventlog.NewBuffer(cfg.Events.BufferSize)
	incidents.SetLinker(buffer)

	var consumer *eventlog.Consumer
	if cfg.Events.Kafka.Enabled {
		consumer, err = eventlog.NewConsumer(cfg.Events.Kafka, buffer, validator, slog.Default())
		if err != nil {
			slog.Error("failed to initialize event consumer", "error", err)
			os.Exit(1)
		}
		if err := consumer.Start(); err != nil {
			slog.Error("failed to start event consumer", "error", err)
			os.Exit(1)
		}
	}

	// Classification and remediation.
	classifier := classify.New(classify.NewWeightedScorer(), classify.Config{
		IncidentScoreCutoff: cfg.Classify.IncidentScoreCutoff,
		Timeout:             cfg.Classify.Timeout,
	})

	gate := gatekeeper.New(cfg.Autonomy,
		&logExecutor{logger: slog.Default().With("component", "executor")},
		center, incidents)

	// Catalog snapshots.
	store, err := catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.Timeout)
	if err != nil {
		slog.Error("failed to initialize catalog client", "error", err)
		os.Exit(1)
	}

	eng := engine.New(cfg.Engine, engine.Deps{
		Store:      store,
		Validator:  validator,
		Center:     center,
		Classifier: classifier,
		Incidents:  incidents,
		Gate:       gate,
		Buffer:     buffer,
	})
	eng.Start(ctx)

	// HTTP surface.
	mux := http.NewServeMux()
	alerts.NewHandler(center).RegisterRoutes(mux)
	incident.NewHandler(incidents).RegisterRoutes(mux)
	gatekeeper.NewHandler(gate).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/status", statusHandler(eng, version))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting triage server", "address", server.Addr, "version", version)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	cancel()
	eng.Stop()

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			slog.Error("consumer shutdown error", "error", err)
		}
	}
	if auditWriter != nil {
		if err := auditWriter.Close(); err != nil {
			slog.Error("audit writer shutdown error", "error", err)
		}
	}
	if chClient != nil {
		chClient.Close()
	}
	if stateStore != nil {
		stateStore.Close()
	}

	slog.Info("shutdown complete")
}

func setupLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func statusHandler(eng *engine.Engine, version string) http.HandlerFunc {
	type statusResponse struct {
		Version string `json:"version"`
		engine.Status
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(statusResponse{
			Version: version,
			Status:  eng.Status(),
		}); err != nil {
			slog.Error("failed to write status response", "error", err)
		}
	}
}

// Package runtime assembles the daemon: bus, storage, history,
// synthesis pipeline, service and the admin HTTP surface.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aloudlabs/aloud-core/internal/bus"
	"github.com/aloudlabs/aloud-core/internal/config"
	"github.com/aloudlabs/aloud-core/internal/history"
	"github.com/aloudlabs/aloud-core/internal/jobs"
	"github.com/aloudlabs/aloud-core/internal/merge"
	"github.com/aloudlabs/aloud-core/internal/natsserver"
	"github.com/aloudlabs/aloud-core/internal/pipeline"
	"github.com/aloudlabs/aloud-core/internal/service"
	"github.com/aloudlabs/aloud-core/internal/storage"
	"github.com/aloudlabs/aloud-core/internal/synth"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error

	natsServer *natsserver.EmbeddedServer
	busClient  *bus.Client
	store      *storage.Manager
	history    *history.Store
	registry   *jobs.Registry
	service    *service.Service

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	ns, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.natsServer = ns

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		r.natsServer.Shutdown()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = busClient

	if err := r.buildServices(ctx); err != nil {
		r.busClient.Close()
		r.natsServer.Shutdown()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/storagez", r.handleStorage)
	mux.HandleFunc("/jobsz", r.handleJobs)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("synthesis_mode", r.cfg.Synthesis.Mode),
		slog.String("storage_dir", r.cfg.Storage.Dir))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}

	r.service.Close()
	r.busClient.Close()
	r.natsServer.Shutdown()
	if err := r.history.Close(); err != nil {
		r.logger.Error("history close error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) buildServices(ctx context.Context) error {
	store, err := storage.New(r.cfg.Storage.Dir, r.cfg.Storage.MaxSizeMB, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	r.store = store

	hist, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	r.history = hist

	backend, err := synth.NewFromConfig(r.cfg.Synthesis)
	if err != nil {
		return fmt.Errorf("failed to build synthesis backend: %w", err)
	}
	worker := synth.NewWorker(backend, synth.WorkerConfig{
		MaxRetries:          r.cfg.Synthesis.MaxRetries,
		RetryDelay:          time.Duration(r.cfg.Synthesis.RetryDelayMS) * time.Millisecond,
		AttemptTimeout:      time.Duration(r.cfg.Synthesis.AttemptTimeoutMS) * time.Millisecond,
		MinBytesPerChar:     r.cfg.Synthesis.MinBytesPerChar,
		ValidationTolerance: r.cfg.Synthesis.ValidationTolerance,
	}, r.logger)
	coord := synth.NewCoordinator(worker, r.cfg.Synthesis.MaxParallel, r.logger)
	merger := merge.New(r.cfg.Merge.FFmpegPath, time.Duration(r.cfg.Merge.TimeoutMS)*time.Millisecond, r.logger)

	r.registry = jobs.NewRegistry(r.logger)
	pipe := pipeline.New(r.cfg, coord, merger, store, r.registry, r.logger)

	r.service = service.NewService(ctx, r.cfg, r.busClient, pipe, hist, r.logger)
	if err := r.service.Start(); err != nil {
		return fmt.Errorf("failed to start synthesis service: %w", err)
	}
	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() && r.service.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleStorage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(r.store.Stats()); err != nil {
		r.logger.Warn("failed to encode storage stats", slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleJobs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(r.registry.Snapshot()); err != nil {
		r.logger.Warn("failed to encode job snapshot", slog.String("error", err.Error()))
	}
}

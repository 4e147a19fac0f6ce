// Package runtime assembles the server from its components and owns
// the process lifecycle: construction in dependency order, serving
// until the context is cancelled, teardown in reverse.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxalabs/voxa-server/internal/admission"
	"github.com/voxalabs/voxa-server/internal/audio"
	"github.com/voxalabs/voxa-server/internal/bus"
	"github.com/voxalabs/voxa-server/internal/config"
	"github.com/voxalabs/voxa-server/internal/engine"
	"github.com/voxalabs/voxa-server/internal/history"
	"github.com/voxalabs/voxa-server/internal/httpapi"
	"github.com/voxalabs/voxa-server/internal/natsserver"
	"github.com/voxalabs/voxa-server/internal/perf"
	"github.com/voxalabs/voxa-server/internal/protocol"
	"github.com/voxalabs/voxa-server/internal/synth"
	"github.com/voxalabs/voxa-server/internal/voices"
)

type Runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	version string

	httpServer    *http.Server
	metricsServer *http.Server
	engine        engine.Engine
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger, version string) *Runtime {
	return &Runtime{
		cfg:     cfg,
		logger:  logger,
		version: version,
	}
}

// Healthy reports whether the server is started and the engine loaded.
func (r *Runtime) Healthy() bool {
	return r.ready.Load() && r.engine != nil && r.engine.Loaded()
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	store, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			r.logger.Error("history close error", slog.String("error", err.Error()))
		}
	}()

	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		defer embedded.Shutdown()

		busCfg := r.cfg.Bus
		if embedded != nil {
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		busClient, err = bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("connect message bus: %w", err)
		}
		defer busClient.Close()
	}

	eng, err := engine.New(r.cfg, r.logger)
	if err != nil {
		return err
	}
	r.engine = eng
	if err := eng.Load(ctx); err != nil {
		return fmt.Errorf("load engine: %w", err)
	}

	lib, err := voices.NewLibrary(r.cfg.Voices, r.logger)
	if err != nil {
		return err
	}

	stats := perf.NewRollingStats()
	monitor := perf.NewMonitor(stats, r.logger)
	controller := admission.New(r.cfg.Admission, stats, r.logger)
	dispatcher := synth.NewDispatcher(eng, r.cfg.Dispatcher.Workers, r.logger)
	defer dispatcher.Close()
	encoder := audio.NewEncoder(r.cfg.Audio, r.logger)
	pipeline := synth.NewPipeline(r.cfg, lib, controller, dispatcher, encoder, monitor, store, busClient, r.logger)

	bus.StartBeacon(ctx, busClient, time.Duration(r.cfg.Bus.StatusInterval)*time.Millisecond, func() protocol.ServerStatus {
		snap := stats.Snapshot()
		return protocol.ServerStatus{
			Name:               r.cfg.RuntimeName,
			Version:            r.version,
			Engine:             r.cfg.Engine.Mode,
			TotalRequests:      snap.TotalRequests,
			AvgLatencyMS:       snap.AvgLatencyMS,
			ConcurrentRequests: snap.ConcurrentRequests,
			QueueDepth:         snap.QueueDepth,
			UptimeSeconds:      snap.UptimeSeconds,
			Timestamp:          time.Now().UTC(),
		}
	}, r.logger)

	mux := http.NewServeMux()
	httpapi.New(r.cfg, pipeline, eng, lib, stats, store, r.logger).Register(mux)
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

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

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("engine", r.cfg.Engine.Mode),
		slog.String("version", r.version))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

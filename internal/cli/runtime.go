package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/taskgraph/internal/config"
	"github.com/shaiso/taskgraph/internal/repo"
	"github.com/shaiso/taskgraph/internal/scan"
	"github.com/shaiso/taskgraph/internal/telemetry"
	"github.com/shaiso/taskgraph/internal/weights"
	"github.com/shaiso/taskgraph/internal/worker"
)

// NewRegistry возвращает реестр всех функций задач бинарника.
// Оркестратор и воркеры обязаны строить его одинаково.
func NewRegistry() *worker.Registry {
	reg := worker.NewRegistry()
	scan.Register(reg)
	return reg
}

func newLogger(cfg *config.Config) *slog.Logger {
	return telemetry.SetupLogger(os.Stderr, telemetry.ParseLevel(cfg.Log.Level), cfg.Log.Format)
}

// openWeightStore выбирает хранилище весов: PostgreSQL, если задан DSN,
// иначе JSON-файл. close нужно вызвать по завершении.
func openWeightStore(ctx context.Context, cfg *config.Config) (store weights.Store, closeFn func(), err error) {
	if cfg.Weights.DSN == "" {
		return weights.NewFileStore(cfg.Weights.File), func() {}, nil
	}

	pool, err := repo.NewPool(ctx, cfg.Weights.DSN)
	if err != nil {
		return nil, nil, err
	}
	r := repo.NewWeightRepo(pool)
	if err := r.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return r, pool.Close, nil
}

func newLauncher(cfg *config.Config, reg *worker.Registry) worker.Launcher {
	if cfg.InProc {
		return &worker.InProcessLauncher{Registry: reg}
	}
	return &worker.ProcessLauncher{}
}

// serveMetrics поднимает /healthz и /metrics до отмены ctx.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

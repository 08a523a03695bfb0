package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/taskgraph/internal/domain"
	"github.com/shaiso/taskgraph/internal/engine"
	"github.com/shaiso/taskgraph/internal/logrelay"
	"github.com/shaiso/taskgraph/internal/shm"
	"github.com/shaiso/taskgraph/internal/telemetry"
	"github.com/shaiso/taskgraph/internal/weights"
	"github.com/shaiso/taskgraph/internal/worker"
)

// Default configuration values.
const (
	defaultBatchThreshold = 100 * time.Millisecond
	defaultWeight         = 0.1 // секунды; для задач без оценки
)

// Orchestrator управляет выполнением одного графа задач.
//
// Методы domain.Submitter можно вызывать до Run и из own-задач;
// одновременно из нескольких горутин — нельзя.
type Orchestrator struct {
	runID string

	graph   *engine.Graph
	ownQ    *engine.Queue
	workerQ *engine.Queue

	registry *worker.Registry
	launcher worker.Launcher
	weights  *weights.Table
	exchange *shm.Exchange
	metrics  *telemetry.Metrics

	// Configuration
	workers         int
	batchThreshold  float64
	returnThreshold int
	logLevel        slog.Level
	logWindow       time.Duration

	// Состояние запуска
	pool    *pool
	slots   *slots
	started bool

	// Lifecycle
	logger *slog.Logger
	sink   *slog.Logger
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Workers — количество воркеров (default: NumCPU-1, минимум 1).
	Workers int

	// Registry — функции задач; должен совпадать с реестром воркеров.
	Registry *worker.Registry

	// Launcher — способ запуска воркеров (default: ProcessLauncher).
	Launcher worker.Launcher

	// Weights — таблица весов (default: пустая, без сохранения).
	Weights *weights.Table

	// BatchThreshold — суммарный вес пакета (default: 100ms).
	BatchThreshold time.Duration

	// ReturnThreshold — порог для Return в байтах (default: 1 MiB).
	ReturnThreshold int

	// ShmDir — директория сегментов (default: /dev/shm или TempDir).
	ShmDir string

	// CheckDataDeps включает проверку тегов данных.
	CheckDataDeps bool

	// Metrics — метрики (default: незарегистрированный набор).
	Metrics *telemetry.Metrics

	// Logger — настоящий вывод логов; во время Run записи идут через relay.
	Logger *slog.Logger

	// LogLevel — уровень логов воркеров и оркестратора во время Run.
	LogLevel slog.Level

	// LogWindow — окно переупорядочивания relay (default: 20ms).
	LogWindow time.Duration
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = max(1, runtime.NumCPU()-1)
	}

	threshold := cfg.BatchThreshold
	if threshold <= 0 {
		threshold = defaultBatchThreshold
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = worker.NewRegistry()
	}

	launcher := cfg.Launcher
	if launcher == nil {
		launcher = &worker.ProcessLauncher{}
	}

	table := cfg.Weights
	if table == nil {
		table = weights.New(nil)
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}

	runID := uuid.NewString()

	o := &Orchestrator{
		runID:           runID,
		ownQ:            engine.NewQueue(),
		workerQ:         engine.NewQueue(),
		registry:        registry,
		launcher:        launcher,
		weights:         table,
		exchange:        shm.NewExchange(cfg.ShmDir, runID, shm.OrchestratorOwner),
		metrics:         metrics,
		workers:         workers,
		batchThreshold:  threshold.Seconds(),
		returnThreshold: cfg.ReturnThreshold,
		logLevel:        cfg.LogLevel,
		logWindow:       cfg.LogWindow,
		logger:          telemetry.WithRunID(logger, runID),
		sink:            logger,
	}

	o.graph = engine.NewGraph(engine.Options{
		Weigh:         o.weigh,
		OnReady:       o.onReady,
		OnPriority:    o.onPriority,
		CheckDataDeps: cfg.CheckDataDeps,
		Admit:         o.admit,
	})
	return o
}

// RunID возвращает идентификатор запуска.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Graph возвращает граф задач (для диагностики и тестов).
func (o *Orchestrator) Graph() *engine.Graph {
	return o.graph
}

// Run добавляет начальные задачи и выполняет граф до конца.
//
// Ошибка построения графа возвращается до запуска воркеров.
// Любая ошибка задачи останавливает весь запуск.
func (o *Orchestrator) Run(ctx context.Context, tasks []domain.Task) (err error) {
	if o.started {
		return ErrAlreadyRun
	}
	o.started = true

	if err := o.graph.SubmitAll(tasks); err != nil {
		o.abandon()
		return fmt.Errorf("build graph: %w", err)
	}

	relay := logrelay.New(o.sink.Handler(), o.logWindow)
	relay.Start()
	o.logger = telemetry.WithRunID(slog.New(relay.Handler(o.logLevel)), o.runID)

	start := time.Now()
	o.logger.Info("run started",
		"tasks", o.graph.Len(),
		"workers", o.workers,
	)

	p, err := startPool(ctx, o.launcher, o.workers, worker.Spec{
		RunID:           o.runID,
		ShmDir:          o.exchange.Dir(),
		ReturnThreshold: o.returnThreshold,
		LogLevel:        o.logLevel,
	}, relay, o.logger)
	if err != nil {
		o.abandon()
		relay.Stop()
		return err
	}
	o.pool = p
	o.slots = newSlots(o.workers)

	defer func() {
		if err != nil {
			o.shutdownFailed(relay, err)
			return
		}
		err = o.shutdownClean(ctx, relay, time.Since(start))
	}()

	return o.loop(ctx)
}

// shutdownClean — завершение после выполнения всего графа.
func (o *Orchestrator) shutdownClean(ctx context.Context, relay *logrelay.Relay, elapsed time.Duration) error {
	if err := o.weights.Save(ctx); err != nil {
		o.logger.Warn("weight table not saved", "error", err)
	}

	releaseErr := o.exchange.ReleaseAll()
	if releaseErr != nil {
		o.logger.Error("release shared memory", "error", releaseErr)
	}

	o.logger.Info("run finished",
		"tasks", o.graph.Len(),
		"elapsed", elapsed,
	)

	o.pool.stopReading()
	o.pool.closeInputs()
	relay.Flush()
	waitErr := o.pool.wait()
	relay.Stop()
	if late := relay.Late(); late > 0 {
		o.sink.Debug("log records emitted out of order", "count", late, "window", o.logWindow)
	}

	return errors.Join(releaseErr, waitErr)
}

// shutdownFailed — аварийное завершение: воркеры убиваются, логи дочитываются.
func (o *Orchestrator) shutdownFailed(relay *logrelay.Relay, cause error) {
	o.logger.Error("run failed", "error", cause)

	o.pool.stopReading()
	o.pool.kill()

	if err := o.exchange.ReleaseAll(); err != nil {
		o.logger.Error("release shared memory", "error", err)
	}

	relay.Flush()
	if err := o.pool.wait(); err != nil {
		o.logger.Debug("workers stopped with error", "error", err)
	}
	relay.Stop()
}

// abandon освобождает сегменты, если запуск не состоялся.
func (o *Orchestrator) abandon() {
	if err := o.exchange.ReleaseAll(); err != nil {
		o.logger.Error("release shared memory", "error", err)
	}
}

// weigh — оценка задачи: явный вес, таблица или значение по умолчанию.
func (o *Orchestrator) weigh(task domain.Task) float64 {
	if task.HasExplicitWeight() {
		return task.Weight
	}
	if w, ok := o.weights.Estimate(task.Name); ok {
		return w
	}
	return defaultWeight
}

func (o *Orchestrator) onReady(n *engine.Node) {
	if n.Task.Own {
		o.ownQ.Push(n)
	} else {
		o.workerQ.Push(n)
	}
}

func (o *Orchestrator) onPriority(n *engine.Node) {
	o.ownQ.Fix(n)
	o.workerQ.Fix(n)
}

// admit проверяет функцию и закрепляет публикации, которые задача читает.
func (o *Orchestrator) admit(task domain.Task) error {
	if !o.registry.Has(task.Func) {
		return fmt.Errorf("%w: %s (task %s)", worker.ErrUnknownFunc, task.Func, task.Name)
	}

	for i, segment := range task.Publications {
		if err := o.exchange.Pin(segment); err != nil {
			for _, pinned := range task.Publications[:i] {
				o.exchange.Unpin(pinned)
			}
			return fmt.Errorf("task %s: %w", task.Name, err)
		}
	}
	return nil
}

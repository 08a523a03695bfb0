package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shaiso/taskgraph/internal/domain"
	"github.com/shaiso/taskgraph/internal/logrelay"
	"github.com/shaiso/taskgraph/internal/mq"
	"github.com/shaiso/taskgraph/internal/shm"
	"github.com/shaiso/taskgraph/internal/telemetry"
)

// DefaultReturnThreshold — размер результата, начиная с которого он
// передаётся через Return-сегмент.
const DefaultReturnThreshold = 1 << 20

// ServeConfig — конфигурация цикла воркера.
type ServeConfig struct {
	// ID — номер воркера в пуле.
	ID int

	// RunID — идентификатор запуска, входит в имена сегментов.
	RunID string

	// Registry — функции задач.
	Registry *Registry

	// In — входящая очередь, Out — очередь результатов, Logs — поток логов.
	In   io.Reader
	Out  io.Writer
	Logs io.Writer

	// ShmDir — директория сегментов (default: shm.DefaultDir()).
	ShmDir string

	// ReturnThreshold — порог для Return в байтах (default: 1 MiB).
	ReturnThreshold int

	// LogLevel — минимальный уровень логов воркера.
	LogLevel slog.Level
}

type server struct {
	id        int
	registry  *Registry
	exchange  *shm.Exchange
	publisher *mq.Publisher
	threshold int
	logger    *slog.Logger
}

// Serve запускает цикл событий воркера.
//
// Возвращает nil, когда входящая очередь закрыта, и ошибку,
// обёрнутую в ErrTaskFailed, если задача упала.
func Serve(ctx context.Context, cfg ServeConfig) error {
	if cfg.Registry == nil {
		return fmt.Errorf("worker %d: registry is required", cfg.ID)
	}
	threshold := cfg.ReturnThreshold
	if threshold <= 0 {
		threshold = DefaultReturnThreshold
	}

	logger := slog.New(logrelay.NewStreamHandler(cfg.Logs, &logrelay.HandlerOptions{
		Level:  cfg.LogLevel,
		Worker: cfg.ID,
	}))

	s := &server{
		id:        cfg.ID,
		registry:  cfg.Registry,
		exchange:  shm.NewExchange(cfg.ShmDir, cfg.RunID, cfg.ID),
		publisher: mq.NewPublisher(cfg.Out, logger),
		threshold: threshold,
		logger:    logger,
	}
	defer func() {
		if err := s.exchange.ReleaseAll(); err != nil {
			logger.Warn("release returns on exit", "error", err)
		}
	}()

	ctx = shm.WithExchange(ctx, s.exchange)
	ctx = telemetry.WithLogger(ctx, logger)

	logger.Debug("worker started", "run_id", cfg.RunID)

	consumer := mq.NewConsumer(cfg.In, fmt.Sprintf("worker-%d", cfg.ID), logger)
	err := consumer.Run(ctx, s.handle)
	if err != nil && !errors.Is(err, ErrTaskFailed) {
		logger.Error("worker loop stopped", "error", err)
	}
	logger.Debug("worker stopped")
	return err
}

func (s *server) handle(ctx context.Context, msg *mq.Message) error {
	switch msg.Type {
	case mq.MessageTypeBatch:
		return s.runBatch(ctx, msg.Batch)
	case mq.MessageTypeRelease:
		if err := s.exchange.FreeReturn(msg.Release); err != nil {
			return fmt.Errorf("release return: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Type)
	}
}

// runBatch выполняет задачи пакета по порядку.
// Первая ошибка прерывает пакет; результаты уже выполненных задач не отправляются.
func (s *server) runBatch(ctx context.Context, batch []mq.Invocation) error {
	results := make([]mq.Result, 0, len(batch))

	for _, inv := range batch {
		res, err := s.execute(ctx, inv)
		if err != nil {
			s.logger.Error("task failed", "task", inv.Name, "error", err)
			if perr := s.publisher.PublishFailure(s.id, mq.Failure{Task: inv.Name, Message: err.Error()}); perr != nil {
				return errors.Join(fmt.Errorf("%w: %s", ErrTaskFailed, inv.Name), perr)
			}
			return fmt.Errorf("%w: %s: %v", ErrTaskFailed, inv.Name, err)
		}
		results = append(results, res)
	}

	return s.publisher.PublishResults(s.id, results)
}

func (s *server) execute(ctx context.Context, inv mq.Invocation) (mq.Result, error) {
	fn, err := s.registry.Get(inv.Func)
	if err != nil {
		return mq.Result{}, err
	}

	taskCtx := telemetry.WithLogger(ctx, telemetry.WithTask(s.logger, inv.Name))

	start := time.Now()
	out, err := call(taskCtx, fn, domain.Input{Param: inv.Param, Deps: inv.Deps})
	elapsed := time.Since(start)
	if err != nil {
		return mq.Result{}, err
	}

	res := mq.Result{Name: inv.Name, Elapsed: elapsed}

	data, err := shm.Encode(out)
	if err != nil {
		return mq.Result{}, fmt.Errorf("result of %s: %w", inv.Name, err)
	}
	if len(data) > s.threshold {
		ref, err := s.exchange.CreateReturnEncoded(data)
		if err != nil {
			return mq.Result{}, err
		}
		s.logger.Debug("result sent through shared memory",
			"task", inv.Name,
			"segment", ref.Segment,
			"bytes", len(data),
		)
		res.Return = &ref
		return res, nil
	}

	res.Output = out
	return res, nil
}

// call вызывает функцию задачи, превращая панику в ошибку.
func call(ctx context.Context, fn domain.Func, in domain.Input) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, in)
}

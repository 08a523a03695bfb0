package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/taskgraph/internal/logrelay"
	"github.com/shaiso/taskgraph/internal/mq"
	"github.com/shaiso/taskgraph/internal/worker"
)

// event — сообщение из общей очереди результатов.
type event struct {
	worker int
	msg    *mq.Message

	// exit — поток результатов воркера закончился.
	exit bool

	// err — поток результатов не удалось прочитать.
	err error
}

// pool — запущенные воркеры и горутины, читающие их потоки.
//
// Очереди результатов всех воркеров сливаются в один канал events.
type pool struct {
	handles []*worker.Handle
	pubs    []*mq.Publisher
	events  chan event

	quit     chan struct{}
	quitOnce sync.Once
	killOnce sync.Once

	group  errgroup.Group
	logger *slog.Logger
}

func startPool(ctx context.Context, launcher worker.Launcher, n int, spec worker.Spec, relay *logrelay.Relay, logger *slog.Logger) (*pool, error) {
	p := &pool{
		events: make(chan event, n),
		quit:   make(chan struct{}),
		logger: logger,
	}

	for id := 0; id < n; id++ {
		spec.ID = id
		h, err := launcher.Launch(ctx, spec)
		if err != nil {
			p.kill()
			p.stopReading()
			_ = p.wait()
			return nil, fmt.Errorf("launch worker %d: %w", id, err)
		}
		p.handles = append(p.handles, h)
		p.pubs = append(p.pubs, mq.NewPublisher(h.In, logger))
		p.watch(h, relay)

		logger.Debug("worker launched", "worker", id, "pid", h.PID)
	}
	return p, nil
}

// watch запускает чтение потоков воркера; после EOF на обоих ждёт процесс.
func (p *pool) watch(h *worker.Handle, relay *logrelay.Relay) {
	p.group.Go(func() error {
		var streams errgroup.Group
		streams.Go(func() error {
			p.pumpResults(h)
			return nil
		})
		streams.Go(func() error {
			if err := relay.Pump(h.Logs, h.PID, h.ID); err != nil {
				p.logger.Warn("worker log stream", "worker", h.ID, "error", err)
			}
			return nil
		})
		_ = streams.Wait()

		if err := h.Wait(); err != nil {
			return fmt.Errorf("worker %d: %w", h.ID, err)
		}
		return nil
	})
}

// pumpResults перекладывает сообщения воркера в events.
// После stopReading дочитывает поток до конца, не отправляя события.
func (p *pool) pumpResults(h *worker.Handle) {
	consumer := mq.NewConsumer(h.Out, fmt.Sprintf("results-%d", h.ID), p.logger)
	for {
		msg, err := consumer.Next()
		switch {
		case err == nil:
			p.emit(event{worker: h.ID, msg: msg})
		case errors.Is(err, io.EOF):
			p.emit(event{worker: h.ID, exit: true})
			return
		default:
			p.emit(event{worker: h.ID, err: err})
			_, _ = io.Copy(io.Discard, h.Out)
			return
		}
	}
}

func (p *pool) emit(ev event) {
	select {
	case p.events <- ev:
	case <-p.quit:
	}
}

// send отправляет воркеру пакет задач.
func (p *pool) send(id int, batch []mq.Invocation) error {
	return p.pubs[id].PublishBatch(batch)
}

// release сообщает воркеру, что его Return прочитан.
func (p *pool) release(id int, segment string) error {
	return p.pubs[id].PublishRelease(segment)
}

// stopReading прекращает доставку событий; главный цикл больше не читает events.
func (p *pool) stopReading() {
	p.quitOnce.Do(func() {
		close(p.quit)
	})
}

// closeInputs закрывает входящие очереди: воркеры завершаются штатно.
func (p *pool) closeInputs() {
	for _, h := range p.handles {
		if err := h.In.Close(); err != nil {
			p.logger.Debug("close worker input", "worker", h.ID, "error", err)
		}
	}
}

// kill принудительно останавливает все воркеры.
func (p *pool) kill() {
	p.killOnce.Do(func() {
		for _, h := range p.handles {
			if err := h.Kill(); err != nil {
				p.logger.Debug("kill worker", "worker", h.ID, "error", err)
			}
			_ = h.In.Close()
		}
	})
}

// wait ждёт все воркеры и горутины чтения.
func (p *pool) wait() error {
	return p.group.Wait()
}

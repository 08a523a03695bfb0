package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shaiso/taskgraph/internal/domain"
	"github.com/shaiso/taskgraph/internal/engine"
	"github.com/shaiso/taskgraph/internal/mq"
	"github.com/shaiso/taskgraph/internal/shm"
	"github.com/shaiso/taskgraph/internal/telemetry"
)

// loop — основной цикл: own-задачи, отправка пакетов, ожидание результатов.
func (o *Orchestrator) loop(ctx context.Context) error {
	for !o.graph.Complete() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrAborted, err)
		}

		// 1. Все готовые own-задачи, включая ставшие готовыми по ходу.
		if err := o.drainOwn(ctx); err != nil {
			return err
		}

		// Новых задач появиться не может: ждать открытые префиксы бессмысленно.
		if !o.graph.CanGrow() && o.closePrefixes("no own tasks left") {
			continue
		}

		// 2. Пакеты для свободных воркеров.
		if err := o.dispatch(); err != nil {
			return err
		}
		o.updateGauges()

		if o.graph.Complete() || o.ownQ.Len() > 0 {
			continue
		}

		// Ничего не выполняется и ничего не готово.
		if o.slots.outstanding() == 0 {
			if o.workerQ.Len() > 0 {
				continue
			}
			// По одному префиксу за проход: снятая own-задача ещё может
			// добавить задачи в остальные.
			if prefix, ok := o.graph.CloseBlockingPrefix(); ok {
				o.logger.Debug("wildcard prefix closed", "prefix", prefix, "reason", "graph is quiescent")
				continue
			}
			return fmt.Errorf("%w: pending %s", ErrDeadlock, strings.Join(o.graph.Pending(), ", "))
		}

		// 3. Единственное блокирующее ожидание.
		select {
		case ev := <-o.pool.events:
			if err := o.handleEvent(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
		}
	}
	return nil
}

func (o *Orchestrator) closePrefixes(reason string) bool {
	open := o.graph.OpenPrefixes()
	if len(open) == 0 {
		return false
	}
	o.graph.CloseOpenPrefixes()
	o.logger.Debug("wildcard prefixes closed", "prefixes", open, "reason", reason)
	return true
}

// drainOwn выполняет own-задачи по приоритету, пока очередь не опустеет.
func (o *Orchestrator) drainOwn(ctx context.Context) error {
	for {
		n := o.ownQ.Pop()
		if n == nil {
			return nil
		}
		if err := o.runOwn(ctx, n); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) runOwn(ctx context.Context, n *engine.Node) error {
	if err := o.graph.MarkRunning(n); err != nil {
		return err
	}

	fn, err := o.registry.Get(n.Task.Func)
	if err != nil {
		return &TaskError{Task: n.Name(), Worker: -1, Message: err.Error(), Err: err}
	}

	logger := telemetry.WithTask(o.logger, n.Name())
	taskCtx := domain.WithSubmitter(ctx, o)
	taskCtx = shm.WithExchange(taskCtx, o.exchange)
	taskCtx = telemetry.WithLogger(taskCtx, logger)

	logger.Debug("own task started")

	o.graph.SetCurrent(n)
	start := time.Now()
	out, err := callOwn(taskCtx, fn, domain.Input{Param: n.Task.Param, Deps: o.graph.DepOutputs(n)})
	elapsed := time.Since(start)
	o.graph.SetCurrent(nil)

	if err != nil {
		return &TaskError{Task: n.Name(), Worker: -1, Message: err.Error(), Err: err}
	}

	return o.complete(n, out, elapsed, "own")
}

// callOwn вызывает функцию own-задачи, превращая панику в ошибку.
func callOwn(ctx context.Context, fn domain.Func, in domain.Input) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, in)
}

// dispatch раздаёт пакеты свободным воркерам.
func (o *Orchestrator) dispatch() error {
	for o.slots.hasIdle() && o.workerQ.Len() > 0 {
		id, _ := o.slots.take()
		batch := o.nextBatch()

		invocations := make([]mq.Invocation, len(batch))
		var weight float64
		for i, n := range batch {
			if err := o.graph.MarkRunning(n); err != nil {
				return err
			}
			n.Worker = id
			invocations[i] = mq.Invocation{
				Name:  n.Name(),
				Func:  n.Task.Func,
				Param: n.Task.Param,
				Deps:  o.graph.DepOutputs(n),
			}
			weight += n.OwnWeight
		}

		o.slots.assign(id, batch)
		if err := o.pool.send(id, invocations); err != nil {
			return fmt.Errorf("send batch to worker %d: %w", id, err)
		}

		o.metrics.Batches.Inc()
		o.metrics.TasksDispatched.Add(float64(len(batch)))
		o.logger.Debug("batch dispatched",
			"worker", id,
			"tasks", len(batch),
			"weight", weight,
		)
	}
	return nil
}

// nextBatch берёт задачу с наивысшим приоритетом и добавляет следующие,
// пока суммарный вес меньше порога.
func (o *Orchestrator) nextBatch() []*engine.Node {
	first := o.workerQ.Pop()
	batch := []*engine.Node{first}
	sum := first.OwnWeight

	for sum < o.batchThreshold && o.workerQ.Len() > 0 {
		n := o.workerQ.Pop()
		batch = append(batch, n)
		sum += n.OwnWeight
	}
	return batch
}

func (o *Orchestrator) handleEvent(ev event) error {
	switch {
	case ev.err != nil:
		return fmt.Errorf("worker %d: %w", ev.worker, ev.err)
	case ev.exit:
		return fmt.Errorf("%w: worker %d", ErrWorkerExited, ev.worker)
	}

	switch ev.msg.Type {
	case mq.MessageTypeFailure:
		f := ev.msg.Failure
		return &TaskError{Task: f.Task, Worker: ev.worker, Message: f.Message}
	case mq.MessageTypeResults:
		return o.handleResults(ev.worker, ev.msg.Results)
	default:
		return fmt.Errorf("%w: %s from worker %d", ErrUnexpectedResult, ev.msg.Type, ev.worker)
	}
}

func (o *Orchestrator) handleResults(id int, results []mq.Result) error {
	if !o.slots.busy(id) {
		return fmt.Errorf("%w: worker %d has no batch", ErrUnexpectedResult, id)
	}

	for _, res := range results {
		n, ok := o.graph.Node(res.Name)
		if !ok || n.State != domain.StateRunning || n.Worker != id {
			return fmt.Errorf("%w: %s from worker %d", ErrUnexpectedResult, res.Name, id)
		}

		out := res.Output
		if res.Return != nil {
			v, err := o.consumeReturn(*res.Return)
			if err != nil {
				return err
			}
			out = v
		}

		if err := o.complete(n, out, res.Elapsed, "worker"); err != nil {
			return err
		}
	}

	for _, n := range o.slots.assigned[id] {
		if n.State != domain.StateDone {
			return fmt.Errorf("%w: worker %d did not return %s", ErrUnexpectedResult, id, n.Name())
		}
	}
	o.slots.free(id)
	return nil
}

// consumeReturn читает Return и сообщает владельцу, что сегмент можно удалить.
func (o *Orchestrator) consumeReturn(ref shm.Ref) (any, error) {
	v, err := o.exchange.ConsumeReturn(ref)
	if err != nil {
		return nil, err
	}
	o.metrics.ReturnsConsumed.Inc()

	if ref.Owner != shm.OrchestratorOwner {
		if err := o.pool.release(ref.Owner, ref.Segment); err != nil {
			return nil, fmt.Errorf("release return %s: %w", ref.Segment, err)
		}
	}
	return v, nil
}

// complete фиксирует результат: время, вес, DONE, публикации.
func (o *Orchestrator) complete(n *engine.Node, out any, elapsed time.Duration, where string) error {
	n.Elapsed = elapsed
	if !n.Task.HasExplicitWeight() {
		o.weights.Observe(n.Name(), elapsed.Seconds())
	}

	if err := o.graph.MarkDone(n, out); err != nil {
		return err
	}
	for _, segment := range n.Task.Publications {
		o.exchange.Unpin(segment)
	}

	o.metrics.TasksCompleted.WithLabelValues(where).Inc()
	o.metrics.TaskDuration.Observe(elapsed.Seconds())
	o.logger.Debug("task done",
		"task", n.Name(),
		"worker", n.Worker,
		"elapsed", elapsed,
	)
	return nil
}

func (o *Orchestrator) updateGauges() {
	o.metrics.ReadyTasks.WithLabelValues("own").Set(float64(o.ownQ.Len()))
	o.metrics.ReadyTasks.WithLabelValues("worker").Set(float64(o.workerQ.Len()))
	o.metrics.BusyWorkers.Set(float64(o.slots.outstanding()))
}

package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shaiso/taskgraph/internal/domain"
	"github.com/shaiso/taskgraph/internal/engine"
	"github.com/shaiso/taskgraph/internal/shm"
	"github.com/shaiso/taskgraph/internal/telemetry"
	"github.com/shaiso/taskgraph/internal/weights"
	"github.com/shaiso/taskgraph/internal/worker"
)

const workerEnv = "TASKGRAPH_TEST_WORKER"

// TestMain в режиме воркера обслуживает stdin/stdout вместо запуска тестов.
func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "1" {
		os.Exit(serveTestWorker())
	}
	os.Exit(m.Run())
}

func serveTestWorker() int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	id := fs.Int("id", 0, "")
	runID := fs.String("run-id", "", "")
	shmDir := fs.String("shm-dir", "", "")
	threshold := fs.Int("return-threshold", 0, "")
	level := fs.String("log-level", "INFO", "")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return 2
	}

	err := worker.ServeStdio(context.Background(), worker.ServeConfig{
		ID:              *id,
		RunID:           *runID,
		Registry:        testRegistry(nil),
		ShmDir:          *shmDir,
		ReturnThreshold: *threshold,
		LogLevel:        telemetry.ParseLevel(*level),
	})
	if err != nil {
		return 1
	}
	return 0
}

// calls считает вызовы функций задач по имени задачи.
type calls struct {
	mu    sync.Mutex
	names []string
}

func (c *calls) add(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.names = append(c.names, name)
	c.mu.Unlock()
}

func (c *calls) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

func testRegistry(seen *calls) *worker.Registry {
	reg := worker.NewRegistry()

	// echo возвращает параметр, дописывая выходы зависимостей.
	reg.Register("echo", func(ctx context.Context, in domain.Input) (any, error) {
		s, _ := in.Param.(string)
		seen.add(s)
		for _, d := range in.Deps {
			switch v := d.(type) {
			case string:
				s += "+" + v
			case map[string]any:
				keys := make([]string, 0, len(v))
				for k := range v {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				s += "+{" + strings.Join(keys, ",") + "}"
			}
		}
		telemetry.FromContext(ctx).Info("echo done", "value", s)
		return s, nil
	})
	reg.Register("fail", func(_ context.Context, in domain.Input) (any, error) {
		seen.add("fail")
		return nil, fmt.Errorf("cannot hash %v", in.Param)
	})
	reg.Register("big", func(_ context.Context, in domain.Input) (any, error) {
		return strings.Repeat("z", in.Param.(int)), nil
	})
	return reg
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestOrchestrator(t *testing.T, reg *worker.Registry, mutate func(*Config)) (*Orchestrator, *syncBuffer) {
	t.Helper()
	logs := &syncBuffer{}
	cfg := Config{
		Workers:  2,
		Registry: reg,
		Launcher: &worker.InProcessLauncher{Registry: reg},
		ShmDir:   t.TempDir(),
		Logger:   slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		LogLevel: slog.LevelInfo,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg), logs
}

func output(t *testing.T, o *Orchestrator, name string) any {
	t.Helper()
	n, ok := o.Graph().Node(name)
	if !ok {
		t.Fatalf("node %s not found", name)
	}
	if n.State != domain.StateDone {
		t.Fatalf("node %s is %s, expected DONE", name, n.State)
	}
	return n.Output
}

func TestRun_DependenciesAndOutputs(t *testing.T) {
	for _, workers := range []int{1, 2} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			o, _ := newTestOrchestrator(t, testRegistry(nil), func(c *Config) { c.Workers = workers })

			err := o.Run(context.Background(), []domain.Task{
				{Name: "C", Func: "echo", Param: "c", Weight: 1, Dependencies: []string{"A", "B"}},
				{Name: "A", Func: "echo", Param: "a", Weight: 1},
				{Name: "B", Func: "echo", Param: "b", Weight: 5},
			})
			if err != nil {
				t.Fatalf("run: %v", err)
			}

			if got := output(t, o, "C"); got != "c+a+b" {
				t.Errorf("expected c+a+b, got %v", got)
			}
			if o.Graph().Done() != 3 {
				t.Errorf("expected 3 done, got %d", o.Graph().Done())
			}
		})
	}
}

func TestRun_CriticalPathFirst(t *testing.T) {
	seen := &calls{}
	reg := testRegistry(seen)
	o, _ := newTestOrchestrator(t, reg, func(c *Config) { c.Workers = 1 })

	// light ведёт к тяжёлому потомку и должен уйти раньше heavy
	err := o.Run(context.Background(), []domain.Task{
		{Name: "heavy", Func: "echo", Param: "heavy", Weight: 3},
		{Name: "light", Func: "echo", Param: "light", Weight: 1},
		{Name: "tail", Func: "echo", Param: "tail", Weight: 10, Dependencies: []string{"light"}},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	got := seen.list()
	if len(got) != 3 || got[0] != "light" {
		t.Errorf("expected light first, got %v", got)
	}
}

func TestRun_ZeroMatchWildcard(t *testing.T) {
	o, _ := newTestOrchestrator(t, testRegistry(nil), nil)

	err := o.Run(context.Background(), []domain.Task{
		{Name: "D", Func: "echo", Param: "d", Dependencies: []string{"scan.*"}},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := output(t, o, "D"); got != "d+{}" {
		t.Errorf("expected empty wildcard map, got %v", got)
	}
}

func TestRun_OwnTaskSubmitsWork(t *testing.T) {
	reg := testRegistry(nil)
	reg.Register("plan", func(ctx context.Context, _ domain.Input) (any, error) {
		s, ok := domain.SubmitterFrom(ctx)
		if !ok {
			return nil, errors.New("no submitter in own task")
		}
		for i := 1; i <= 3; i++ {
			name := fmt.Sprintf("job.%d", i)
			if err := s.Submit(domain.Task{Name: name, Func: "echo", Param: name}); err != nil {
				return nil, err
			}
		}
		s.ClosePrefix("job.*")
		return "planned", nil
	})
	reg.Register("late", func(ctx context.Context, _ domain.Input) (any, error) {
		s, _ := domain.SubmitterFrom(ctx)
		return nil, s.Submit(domain.Task{Name: "job.4", Func: "echo"})
	})

	o, _ := newTestOrchestrator(t, reg, nil)
	err := o.Run(context.Background(), []domain.Task{
		{Name: "plan", Func: "plan", Own: true},
		{Name: "collect", Func: "echo", Param: "all", Dependencies: []string{"plan", "job.*"}},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := output(t, o, "collect"); got != "all+planned+{job.1,job.2,job.3}" {
		t.Errorf("unexpected collect output: %v", got)
	}

	// Отправка в закрытый префикс — ошибка own-задачи
	o2, _ := newTestOrchestrator(t, reg, nil)
	o2.ClosePrefix("job.")
	err = o2.Run(context.Background(), []domain.Task{{Name: "late", Func: "late", Own: true}})
	var te *TaskError
	if !errors.As(err, &te) || te.Worker != -1 {
		t.Fatalf("expected own TaskError, got %v", err)
	}
	if !errors.Is(err, engine.ErrPrefixClosed) {
		t.Errorf("expected ErrPrefixClosed in chain, got %v", err)
	}
}

func TestRun_ChainedWildcardStages(t *testing.T) {
	reg := testRegistry(nil)
	// stage1 ждёт пустой x.* и сам наполняет y.*
	reg.Register("fanout", func(ctx context.Context, _ domain.Input) (any, error) {
		s, ok := domain.SubmitterFrom(ctx)
		if !ok {
			return nil, errors.New("no submitter in own task")
		}
		return "fanned", s.Submit(domain.Task{Name: "y.1", Func: "echo", Param: "y1"})
	})

	o, logs := newTestOrchestrator(t, reg, nil)
	err := o.Run(context.Background(), []domain.Task{
		{Name: "stage1", Func: "fanout", Own: true, Dependencies: []string{"x.*"}},
		{Name: "stage2", Func: "echo", Param: "s2", Own: true, Dependencies: []string{"y.*"}},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := output(t, o, "stage2"); got != "s2+{y.1}" {
		t.Errorf("stage2 should see y.1, got %v", got)
	}
	if strings.Count(logs.String(), "wildcard prefix closed") != 2 {
		t.Errorf("expected prefixes closed one at a time:\n%s", logs.String())
	}
}

func TestRun_WallTimeCoversLongestChain(t *testing.T) {
	reg := testRegistry(nil)
	reg.Register("sleep", func(ctx context.Context, in domain.Input) (any, error) {
		d, err := time.ParseDuration(in.Param.(string))
		if err != nil {
			return nil, err
		}
		select {
		case <-time.After(d):
			return in.Param, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	o, _ := newTestOrchestrator(t, reg, nil)

	const step = 30 * time.Millisecond
	tasks := []domain.Task{
		{Name: "A", Func: "sleep", Param: step.String(), Weight: 3},
		{Name: "B", Func: "sleep", Param: step.String(), Weight: 3, Dependencies: []string{"A"}},
		{Name: "C", Func: "sleep", Param: step.String(), Weight: 3, Dependencies: []string{"B"}},
		{Name: "P1", Func: "sleep", Param: step.String(), Weight: 3},
		{Name: "P2", Func: "sleep", Param: step.String(), Weight: 3},
	}

	start := time.Now()
	if err := o.Run(context.Background(), tasks); err != nil {
		t.Fatalf("run: %v", err)
	}
	if elapsed, chain := time.Since(start), 3*step; elapsed < chain {
		t.Errorf("run took %s, shorter than the A->B->C chain %s", elapsed, chain)
	}
	if o.Graph().Done() != len(tasks) {
		t.Errorf("expected %d done, got %d", len(tasks), o.Graph().Done())
	}
}

func TestRun_WorkerFailureStopsDispatch(t *testing.T) {
	seen := &calls{}
	o, logs := newTestOrchestrator(t, testRegistry(seen), func(c *Config) { c.Workers = 1 })

	err := o.Run(context.Background(), []domain.Task{
		{Name: "bad", Func: "fail", Param: "a.esp", Weight: 10},
		{Name: "other", Func: "echo", Param: "other", Weight: 1},
		{Name: "child", Func: "echo", Param: "child", Dependencies: []string{"bad"}},
	})

	var te *TaskError
	if !errors.As(err, &te) {
		t.Fatalf("expected TaskError, got %v", err)
	}
	if te.Task != "bad" || te.Worker != 0 || !strings.Contains(te.Message, "cannot hash a.esp") {
		t.Errorf("unexpected task error: %+v", te)
	}
	if got := seen.list(); len(got) != 1 || got[0] != "fail" {
		t.Errorf("nothing may run after the failure, got %v", got)
	}
	if !strings.Contains(logs.String(), "run failed") {
		t.Errorf("failure not logged: %s", logs.String())
	}
}

func TestRun_OwnTaskFailure(t *testing.T) {
	boom := errors.New("boom")
	reg := testRegistry(nil)
	reg.Register("explode", func(context.Context, domain.Input) (any, error) { return nil, boom })

	o, _ := newTestOrchestrator(t, reg, nil)
	err := o.Run(context.Background(), []domain.Task{{Name: "x", Func: "explode", Own: true}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestRun_LargeResultThroughReturn(t *testing.T) {
	dir := t.TempDir()
	o, _ := newTestOrchestrator(t, testRegistry(nil), func(c *Config) {
		c.ShmDir = dir
		c.ReturnThreshold = 512
		c.Metrics = telemetry.NewMetrics(nil)
	})

	err := o.Run(context.Background(), []domain.Task{
		{Name: "huge", Func: "big", Param: 10000},
		{Name: "size", Func: "echo", Param: "s", Dependencies: []string{"huge"}},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := output(t, o, "huge").(string); len(got) != 10000 {
		t.Errorf("unexpected length %d", len(got))
	}
	if n := testutil.ToFloat64(o.metrics.ReturnsConsumed); n != 1 {
		t.Errorf("expected 1 return, got %v", n)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("shared memory leaked: %v", entries)
	}
}

func TestRun_PublicationPinnedWhileReaderPending(t *testing.T) {
	reg := testRegistry(nil)
	reg.Register("read", func(ctx context.Context, in domain.Input) (any, error) {
		v, err := shm.Read(ctx, in.Param.(string))
		if err != nil {
			return nil, err
		}
		return v.(map[string]string)["k"], nil
	})
	reg.Register("publish", func(ctx context.Context, _ domain.Input) (any, error) {
		s, _ := domain.SubmitterFrom(ctx)
		segment, err := s.Publish("lookup", map[string]string{"k": "v"})
		if err != nil {
			return nil, err
		}
		if err := s.Submit(domain.Task{
			Name:         "reader",
			Func:         "read",
			Param:        segment,
			Publications: []string{segment},
		}); err != nil {
			return nil, err
		}
		if err := s.Release(segment); !errors.Is(err, shm.ErrInUse) {
			return nil, fmt.Errorf("release of a pinned publication: %v", err)
		}
		return segment, nil
	})
	reg.Register("cleanup", func(ctx context.Context, in domain.Input) (any, error) {
		s, _ := domain.SubmitterFrom(ctx)
		return nil, s.Release(in.Deps[0].(string))
	})

	o, _ := newTestOrchestrator(t, reg, nil)
	err := o.Run(context.Background(), []domain.Task{
		{Name: "publish", Func: "publish", Own: true},
		{Name: "cleanup", Func: "cleanup", Own: true, Dependencies: []string{"publish", "reader*"}},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := output(t, o, "reader"); got != "v" {
		t.Errorf("expected v, got %v", got)
	}
}

func TestRun_WeightsChangeBatching(t *testing.T) {
	tasks := func() []domain.Task {
		return []domain.Task{
			{Name: "t1", Func: "echo", Param: "1"},
			{Name: "t2", Func: "echo", Param: "2"},
			{Name: "t3", Func: "echo", Param: "3"},
			{Name: "t4", Func: "echo", Param: "4"},
		}
	}
	run := func(table *weights.Table) (*Orchestrator, float64) {
		metrics := telemetry.NewMetrics(nil)
		o, _ := newTestOrchestrator(t, testRegistry(nil), func(c *Config) {
			c.Workers = 1
			c.Weights = table
			c.Metrics = metrics
		})
		if err := o.Run(context.Background(), tasks()); err != nil {
			t.Fatalf("run: %v", err)
		}
		return o, testutil.ToFloat64(metrics.Batches)
	}

	cold, coldBatches := run(weights.New(nil))

	warm := weights.New(nil)
	for _, tk := range tasks() {
		warm.Observe(tk.Name, 0.01)
	}
	hot, hotBatches := run(warm)

	if coldBatches != 4 {
		t.Errorf("unknown tasks weigh 0.1s each, expected 4 batches, got %v", coldBatches)
	}
	if hotBatches != 1 {
		t.Errorf("light tasks should share one batch, got %v", hotBatches)
	}
	for _, tk := range tasks() {
		if output(t, cold, tk.Name) != output(t, hot, tk.Name) {
			t.Errorf("weights must not change outputs of %s", tk.Name)
		}
	}
	if _, ok := warm.Estimate("t1"); !ok {
		t.Error("weights should still be tracked")
	}
}

func TestRun_ExplicitWeightNotLearned(t *testing.T) {
	table := weights.New(nil)
	o, _ := newTestOrchestrator(t, testRegistry(nil), func(c *Config) { c.Weights = table })

	err := o.Run(context.Background(), []domain.Task{
		{Name: "fixed", Func: "echo", Weight: 2},
		{Name: "learned", Func: "echo"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, ok := table.Estimate("fixed"); ok {
		t.Error("explicit weight must not be written to the table")
	}
	if _, ok := table.Estimate("learned"); !ok {
		t.Error("measured weight missing")
	}
}

type countingLauncher struct {
	worker.Launcher
	n atomic.Int32
}

func (l *countingLauncher) Launch(ctx context.Context, spec worker.Spec) (*worker.Handle, error) {
	l.n.Add(1)
	return l.Launcher.Launch(ctx, spec)
}

func TestRun_GraphErrorBeforeWorkersStart(t *testing.T) {
	reg := testRegistry(nil)
	launcher := &countingLauncher{Launcher: &worker.InProcessLauncher{Registry: reg}}
	o, _ := newTestOrchestrator(t, reg, func(c *Config) { c.Launcher = launcher })

	err := o.Run(context.Background(), []domain.Task{
		{Name: "A", Func: "echo", Dependencies: []string{"tpyo"}},
	})
	if !errors.Is(err, engine.ErrUnresolvedDependencies) {
		t.Fatalf("expected unresolved dependencies, got %v", err)
	}
	if launcher.n.Load() != 0 {
		t.Errorf("no worker may start, got %d", launcher.n.Load())
	}

	if err := o.Run(context.Background(), nil); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("expected ErrAlreadyRun, got %v", err)
	}
}

func TestSubmit_UnknownFunction(t *testing.T) {
	o, _ := newTestOrchestrator(t, testRegistry(nil), nil)
	err := o.Submit(domain.Task{Name: "x", Func: "nope"})
	if !errors.Is(err, worker.ErrUnknownFunc) {
		t.Errorf("expected ErrUnknownFunc, got %v", err)
	}
	if o.Graph().Len() != 0 {
		t.Error("rejected task must not enter the graph")
	}
}

func TestRun_ContextCancelAborts(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	reg := testRegistry(nil)
	reg.Register("block", func(context.Context, domain.Input) (any, error) {
		<-release
		return nil, nil
	})

	o, _ := newTestOrchestrator(t, reg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := o.Run(ctx, []domain.Task{{Name: "stuck", Func: "block"}})
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
}

func TestRun_WorkerLogsRelayedWithPID(t *testing.T) {
	o, logs := newTestOrchestrator(t, testRegistry(nil), nil)

	if err := o.Run(context.Background(), []domain.Task{{Name: "A", Func: "echo", Param: "hello"}}); err != nil {
		t.Fatalf("run: %v", err)
	}

	out := logs.String()
	if !strings.Contains(out, fmt.Sprintf("[%d] echo done", os.Getpid())) {
		t.Errorf("worker record missing or not prefixed: %s", out)
	}
	if strings.Index(out, "run started") > strings.Index(out, "run finished") {
		t.Errorf("records out of order: %s", out)
	}
}

func TestRun_WorkerProcesses(t *testing.T) {
	if testing.Short() {
		t.Skip("starts worker processes")
	}

	reg := testRegistry(nil)
	o, logs := newTestOrchestrator(t, reg, func(c *Config) {
		c.Launcher = &worker.ProcessLauncher{Env: []string{workerEnv + "=1"}}
		c.ReturnThreshold = 512
	})

	err := o.Run(context.Background(), []domain.Task{
		{Name: "A", Func: "echo", Param: "a"},
		{Name: "B", Func: "big", Param: 5000},
		{Name: "C", Func: "echo", Param: "c", Dependencies: []string{"A", "B"}},
	})
	if err != nil {
		t.Fatalf("run: %v\nlogs:\n%s", err, logs.String())
	}
	if got := output(t, o, "C").(string); !strings.HasPrefix(got, "c+a+zzz") {
		t.Errorf("unexpected output prefix: %.20s", got)
	}
}

package logrelay

import (
	"bufio"
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// DefaultWindow — сколько запись ждёт в буфере переупорядочивания.
const DefaultWindow = 20 * time.Millisecond

const queueSize = 1024

var timeNow = time.Now

// Relay — горутина, выдающая записи всех процессов в одном порядке.
//
// Порядок по времени гарантирован только для записей, дошедших до relay
// не позже чем через window после своего времени. Опоздавшая запись
// выдаётся сразу, после уже выданных более поздних; такие записи
// считает Late.
type Relay struct {
	sink   slog.Handler
	window time.Duration

	queue chan item
	stop  chan struct{}
	done  chan struct{}

	// mu сериализует вызовы sink: горутина relay и прямые записи после Stop.
	mu       sync.Mutex
	stopOnce sync.Once
	started  bool

	last time.Time // время последней выданной записи; только горутина relay
	late atomic.Int64
}

// item — элемент очереди: запись или маркер конца обычного лога.
type item struct {
	rec Record
	ack chan struct{}
}

// New создаёт Relay. window <= 0 заменяется на DefaultWindow.
func New(sink slog.Handler, window time.Duration) *Relay {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Relay{
		sink:   sink,
		window: window,
		queue:  make(chan item, queueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start запускает горутину relay.
func (r *Relay) Start() {
	r.started = true
	go r.run()
}

// Handler возвращает slog.Handler, пишущий записи оркестратора через relay.
func (r *Relay) Handler(level slog.Leveler) slog.Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &queueHandler{relay: r, level: level, pid: os.Getpid()}
}

// Enqueue кладёт запись в очередь. После Stop запись выдаётся сразу.
func (r *Relay) Enqueue(rec Record) {
	select {
	case <-r.stop:
		r.emit(rec)
		return
	default:
	}

	select {
	case r.queue <- item{rec: rec}:
	case <-r.stop:
		r.emit(rec)
	}
}

// Pump читает поток кадров одного воркера до EOF.
//
// Если в потоке встретились не-msgpack данные (например, трассировка
// паники рантайма), остаток потока выдаётся построчно как ERROR.
func (r *Relay) Pump(src io.Reader, pid, worker int) error {
	br := bufio.NewReader(src)
	dec := msgpack.NewDecoder(br)

	for {
		var rec Record
		err := dec.Decode(&rec)
		if err == nil {
			r.Enqueue(rec)
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}

		r.rawLines(br, pid, worker)
		return fmt.Errorf("decode log frame from worker %d: %w", worker, err)
	}
}

func (r *Relay) rawLines(br *bufio.Reader, pid, worker int) {
	sc := bufio.NewScanner(br)
	for sc.Scan() {
		r.Enqueue(Record{
			PID:     pid,
			Worker:  worker,
			Time:    timeNow(),
			Level:   slog.LevelError,
			Message: sc.Text(),
		})
	}
}

// Late возвращает количество записей, выданных позже более новых.
func (r *Relay) Late() int64 {
	return r.late.Load()
}

// Flush ждёт, пока relay выдаст всё, что было поставлено в очередь до вызова.
func (r *Relay) Flush() {
	if !r.started {
		return
	}
	ack := make(chan struct{})
	select {
	case r.queue <- item{ack: ack}:
	case <-r.done:
		return
	}
	select {
	case <-ack:
	case <-r.done:
	}
}

// Stop выдаёт оставшиеся записи и останавливает relay.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	if r.started {
		<-r.done
	}
}

func (r *Relay) run() {
	defer close(r.done)

	var buf recordHeap
	for {
		var due <-chan time.Time
		if buf.Len() > 0 {
			due = time.After(time.Until(buf[0].Time.Add(r.window)))
		}

		select {
		case it := <-r.queue:
			r.accept(&buf, it)

		case <-due:
			r.emitDue(&buf, timeNow())

		case <-r.stop:
			for {
				select {
				case it := <-r.queue:
					r.accept(&buf, it)
					continue
				default:
				}
				break
			}
			r.emitDue(&buf, time.Time{})
			return
		}
	}
}

func (r *Relay) accept(buf *recordHeap, it item) {
	if it.ack != nil {
		r.emitDue(buf, time.Time{})
		close(it.ack)
		return
	}
	heap.Push(buf, it.rec)
}

// emitDue выдаёт записи старше now-window; нулевой now выдаёт всё.
func (r *Relay) emitDue(buf *recordHeap, now time.Time) {
	for buf.Len() > 0 {
		if !now.IsZero() && now.Sub((*buf)[0].Time) < r.window {
			return
		}
		rec := heap.Pop(buf).(Record)
		if rec.Time.Before(r.last) {
			r.late.Add(1)
		} else {
			r.last = rec.Time
		}
		r.emit(rec)
	}
}

func (r *Relay) emit(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx := context.Background()
	if !r.sink.Enabled(ctx, rec.Level) {
		return
	}
	_ = r.sink.Handle(ctx, rec.slogRecord())
}

// recordHeap — min-heap по времени записи.
type recordHeap []Record

func (h recordHeap) Len() int           { return len(h) }
func (h recordHeap) Less(i, j int) bool { return h[i].Time.Before(h[j].Time) }
func (h recordHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *recordHeap) Push(x any) { *h = append(*h, x.(Record)) }

func (h *recordHeap) Pop() any {
	old := *h
	last := len(old) - 1
	rec := old[last]
	*h = old[:last]
	return rec
}

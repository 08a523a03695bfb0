package logrelay

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// HandlerOptions — настройки StreamHandler.
type HandlerOptions struct {
	// Level — минимальный уровень (default: info).
	Level slog.Leveler

	// Worker — id воркера, записывается в каждую запись.
	Worker int
}

// StreamHandler — slog.Handler воркера: пишет записи msgpack-кадрами в поток.
type StreamHandler struct {
	out   *frameWriter
	level slog.Leveler
	pid   int
	id    int

	attrs  []Attr
	prefix string
}

// frameWriter пишет каждый кадр одним Write.
type frameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStreamHandler создаёт StreamHandler поверх w.
func NewStreamHandler(w io.Writer, opts *HandlerOptions) *StreamHandler {
	if opts == nil {
		opts = &HandlerOptions{}
	}
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}
	return &StreamHandler{
		out:   &frameWriter{w: w},
		level: level,
		pid:   os.Getpid(),
		id:    opts.Worker,
	}
}

// Enabled реализует slog.Handler.
func (h *StreamHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle реализует slog.Handler.
func (h *StreamHandler) Handle(_ context.Context, r slog.Record) error {
	rec := Record{
		PID:     h.pid,
		Worker:  h.id,
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
	}
	if rec.Time.IsZero() {
		rec.Time = timeNow()
	}

	attrs := make([]Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = flatten(h.prefix, a, attrs)
		return true
	})
	if len(attrs) > 0 {
		rec.Attrs = attrs
	}

	frame, err := msgpack.Marshal(&rec)
	if err != nil {
		return err
	}

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err = h.out.w.Write(frame)
	return err
}

// WithAttrs реализует slog.Handler.
func (h *StreamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append([]Attr(nil), h.attrs...)
	for _, a := range attrs {
		h2.attrs = flatten(h.prefix, a, h2.attrs)
	}
	return &h2
}

// WithGroup реализует slog.Handler.
func (h *StreamHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

// queueHandler — slog.Handler оркестратора: кладёт записи в очередь Relay,
// чтобы они упорядочивались вместе с записями воркеров.
type queueHandler struct {
	relay  *Relay
	level  slog.Leveler
	pid    int
	attrs  []Attr
	prefix string
}

func (h *queueHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *queueHandler) Handle(_ context.Context, r slog.Record) error {
	rec := Record{
		PID:     h.pid,
		Worker:  OrchestratorWorker,
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
	}
	if rec.Time.IsZero() {
		rec.Time = timeNow()
	}
	attrs := append([]Attr(nil), h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = flatten(h.prefix, a, attrs)
		return true
	})
	rec.Attrs = attrs
	h.relay.Enqueue(rec)
	return nil
}

func (h *queueHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append([]Attr(nil), h.attrs...)
	for _, a := range attrs {
		h2.attrs = flatten(h.prefix, a, h2.attrs)
	}
	return &h2
}

func (h *queueHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

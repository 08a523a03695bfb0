package logrelay

import (
	"fmt"
	"log/slog"
	"time"
)

// OrchestratorWorker — значение Record.Worker для записей самого оркестратора.
const OrchestratorWorker = -1

// Record — одна запись лога, как она передаётся между процессами.
type Record struct {
	PID     int        `msgpack:"pid"`
	Worker  int        `msgpack:"worker"`
	Time    time.Time  `msgpack:"time"`
	Level   slog.Level `msgpack:"level"`
	Message string     `msgpack:"msg"`
	Attrs   []Attr     `msgpack:"attrs,omitempty"`
}

// Attr — атрибут записи. Группы разворачиваются в ключи через точку.
type Attr struct {
	Key   string `msgpack:"k"`
	Value any    `msgpack:"v"`
}

// slogRecord собирает slog.Record для выдачи в sink.
func (r Record) slogRecord() slog.Record {
	msg := r.Message
	if r.Worker != OrchestratorWorker {
		msg = fmt.Sprintf("[%d] %s", r.PID, msg)
	}
	sr := slog.NewRecord(r.Time, r.Level, msg, 0)
	for _, a := range r.Attrs {
		sr.AddAttrs(slog.Any(a.Key, a.Value))
	}
	return sr
}

// flatten превращает slog.Attr в плоский список с ключами group.key.
func flatten(prefix string, a slog.Attr, out []Attr) []Attr {
	v := a.Value.Resolve()
	if a.Key == "" && v.Kind() != slog.KindGroup {
		return out
	}

	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range v.Group() {
			out = flatten(p, ga, out)
		}
		return out
	}

	return append(out, Attr{Key: prefix + a.Key, Value: plain(v)})
}

// plain приводит значение к типу, который msgpack передаёт без потерь.
func plain(v slog.Value) any {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindTime:
		return v.Time()
	case slog.KindDuration:
		return v.Duration().String()
	default:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	}
}

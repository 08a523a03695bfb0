package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

// Форматы вывода логов.
const (
	FormatJSON   = "json"
	FormatText   = "text"
	FormatPretty = "pretty"
)

// ParseLevel разбирает уровень логирования.
// Возможные значения: debug, info, warn, error (регистр не важен).
// По умолчанию: info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewHandler создаёт handler для настоящего вывода.
//
// Формат:
//   - "json" (по умолчанию) — JSON, по строке на запись
//   - "text" — key=value
//   - "pretty" — цветной вывод для терминала (charmbracelet/log)
func NewHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	switch format {
	case FormatPretty:
		return charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmlog.Level(level),
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.000",
		})
	case FormatText:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	default:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     level,
			AddSource: level == slog.LevelDebug,
		})
	}
}

// SetupLogger инициализирует глобальный логгер.
func SetupLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	logger := slog.New(NewHandler(w, level, format))
	slog.SetDefault(logger)
	return logger
}

// Ключи контекста для передачи данных в логгер.
type ctxKey string

const (
	// CtxLogger — ключ для логгера в контексте.
	CtxLogger ctxKey = "logger"
)

// WithLogger добавляет логгер в контекст.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, CtxLogger, logger)
}

// FromContext извлекает логгер из контекста.
// Если логгер не найден, возвращает глобальный.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(CtxLogger).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithRunID возвращает логгер с добавленным run_id.
func WithRunID(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}

// WithTask возвращает логгер с добавленным именем задачи.
func WithTask(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("task", name)
}

// WithWorker возвращает логгер с добавленным id воркера.
func WithWorker(logger *slog.Logger, id int) *slog.Logger {
	return logger.With("worker", id)
}

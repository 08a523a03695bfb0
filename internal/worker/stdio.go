package worker

import (
	"context"
	"os"
)

// ServeStdio запускает цикл воркера поверх stdin/stdout/stderr.
// Используется скрытой командой worker.
func ServeStdio(ctx context.Context, cfg ServeConfig) error {
	cfg.In = os.Stdin
	cfg.Out = os.Stdout
	cfg.Logs = os.Stderr

	// stdout занят очередью результатов: случайный вывод функций задач
	// уходит в поток логов
	os.Stdout = os.Stderr

	return Serve(ctx, cfg)
}

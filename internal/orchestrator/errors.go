package orchestrator

import (
	"errors"
	"fmt"
)

// Ошибки оркестратора.
var (
	// ErrDeadlock — незавершённые задачи есть, но ни одна не может стать готовой.
	ErrDeadlock = errors.New("task graph cannot make progress")

	// ErrUnexpectedResult — результат для задачи, не выполнявшейся на этом воркере.
	ErrUnexpectedResult = errors.New("unexpected result")

	// ErrWorkerExited — воркер завершился во время выполнения.
	ErrWorkerExited = errors.New("worker exited unexpectedly")

	// ErrAborted — выполнение прервано (например, SIGINT).
	ErrAborted = errors.New("run aborted")

	// ErrAlreadyRun — Run можно вызвать только один раз.
	ErrAlreadyRun = errors.New("orchestrator already run")
)

// TaskError — ошибка выполнения задачи. Фатальна для всего запуска.
type TaskError struct {
	Task string

	// Worker — id воркера; -1 для own-задачи.
	Worker int

	Message string

	// Err — исходная ошибка (только для own-задач; ошибки воркеров
	// приходят строкой).
	Err error
}

func (e *TaskError) Error() string {
	if e.Worker < 0 {
		return fmt.Sprintf("task %s failed: %s", e.Task, e.Message)
	}
	return fmt.Sprintf("task %s failed on worker %d: %s", e.Task, e.Worker, e.Message)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

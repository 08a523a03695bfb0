package worker

import "errors"

// Ошибки воркера.
var (
	// ErrUnknownFunc — функция с таким именем не зарегистрирована.
	ErrUnknownFunc = errors.New("unknown task function")

	// ErrTaskFailed — задача завершилась ошибкой, воркер остановлен.
	ErrTaskFailed = errors.New("task failed")

	// ErrUnexpectedMessage — сообщение, которое воркер не обрабатывает.
	ErrUnexpectedMessage = errors.New("unexpected message")

	// ErrKilled — воркер остановлен принудительно.
	ErrKilled = errors.New("worker killed")
)

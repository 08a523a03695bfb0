package shm

import "errors"

// Ошибки жизненного цикла сегментов. Все они — ошибки программиста
// и считаются фатальными для запуска.
var (
	// ErrReleased — сегмент уже освобождён.
	ErrReleased = errors.New("shared segment released")

	// ErrInUse — публикацию читают задачи, которые ещё не завершены.
	ErrInUse = errors.New("shared segment still in use")

	// ErrDuplicate — публикация с таким именем уже существует.
	ErrDuplicate = errors.New("shared segment already exists")

	// ErrNotOwner — сегмент создан другим участником.
	ErrNotOwner = errors.New("shared segment owned by another party")

	// ErrUnknownSegment — сегмент не создавался этим Exchange.
	ErrUnknownSegment = errors.New("unknown shared segment")

	// ErrNoExchange — в контексте нет Exchange.
	ErrNoExchange = errors.New("no shared memory exchange in context")
)

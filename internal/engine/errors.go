package engine

import "errors"

// Ошибки построения графа.
var (
	// ErrDuplicateTask — задача с таким именем уже добавлена.
	ErrDuplicateTask = errors.New("duplicate task name")

	// ErrUnknownDependency — точная зависимость ссылается на ещё не добавленную задачу.
	// Единственная ошибка Submit, после которой SubmitAll повторяет попытку.
	ErrUnknownDependency = errors.New("task depends on unknown task")

	// ErrUnresolvedDependencies — проход SubmitAll не добавил ни одной задачи:
	// опечатка в имени или циклическая зависимость.
	ErrUnresolvedDependencies = errors.New("unresolved dependencies (typo or circular dependency)")

	// ErrCyclicDependency — добавление задачи замкнуло бы цикл через wildcard.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrPrefixClosed — имя задачи попадает под закрытый wildcard-префикс.
	ErrPrefixClosed = errors.New("wildcard prefix already closed")

	// ErrDataDependency — нарушены теги данных (ошибка программиста).
	ErrDataDependency = errors.New("data dependency violated")
)

// Ошибки жизненного цикла узла.
var (
	// ErrUnknownTask — узел с таким именем не найден.
	ErrUnknownTask = errors.New("unknown task")

	// ErrInvalidTransition — недопустимый переход состояния узла.
	ErrInvalidTransition = errors.New("invalid node state transition")
)

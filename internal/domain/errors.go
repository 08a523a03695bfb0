package domain

import "errors"

// ErrInvalidTask — описание задачи не прошло валидацию.
var ErrInvalidTask = errors.New("invalid task")

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	Task    string // имя задачи
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Task != "" {
		return "task " + e.Task + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(task, field, message string, err error) *ValidationError {
	return &ValidationError{
		Task:    task,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

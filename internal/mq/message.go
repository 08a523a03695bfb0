package mq

import (
	"encoding/gob"
	"time"

	"github.com/shaiso/taskgraph/internal/shm"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeBatch   MessageType = "task.batch"
	MessageTypeRelease MessageType = "return.release"
	MessageTypeResults MessageType = "task.results"
	MessageTypeFailure MessageType = "task.failed"
)

// Message — сообщение в очереди. Заполнены только поля, относящиеся к Type.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string

	// Type — тип сообщения.
	Type MessageType

	// Worker — id воркера-отправителя (для сообщений воркера).
	Worker int

	// Batch — задачи пакета (task.batch).
	Batch []Invocation

	// Release — имя Return-сегмента (return.release).
	Release string

	// Results — результаты пакета в порядке выполнения (task.results).
	Results []Result

	// Failure — описание ошибки (task.failed).
	Failure *Failure

	// Timestamp — время создания.
	Timestamp time.Time
}

// Invocation — задача, отправленная воркеру.
type Invocation struct {
	Name  string
	Func  string
	Param any

	// Deps — выходы зависимостей в порядке объявления.
	Deps []any
}

// Result — результат одной задачи.
type Result struct {
	Name string

	// Output — значение результата; nil, если он передан через Return.
	Output any

	// Return — ссылка на Return-сегмент для больших результатов.
	Return *shm.Ref

	// Elapsed — фактическое время выполнения.
	Elapsed time.Duration
}

// Failure — ошибка задачи.
type Failure struct {
	Task    string
	Message string
}

// Register регистрирует конкретный тип, который может встретиться
// в Param, Deps или Output. Регистрация должна совпадать в оркестраторе
// и воркерах, поэтому её выполняют в init() пакета с задачами.
func Register(v any) {
	gob.Register(v)
}

func init() {
	Register(map[string]any{})
	Register([]any{})
	Register(map[string]string{})
	Register(map[string]int{})
	Register(map[string]uint64{})
}

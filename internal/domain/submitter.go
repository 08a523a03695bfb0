package domain

import "context"

// Submitter — API добавления задач и управления публикациями.
//
// Доступен вызывающему коду до Run и own-задачам во время выполнения
// (через SubmitterFrom). Все вызовы происходят в горутине основного
// цикла оркестратора, поэтому реализация не использует блокировки.
type Submitter interface {
	// Submit добавляет одну задачу. nil — задача принята.
	// Ошибка не меняет граф.
	Submit(task Task) error

	// SubmitAll добавляет пачку задач, которые могут ссылаться друг на друга.
	SubmitAll(tasks []Task) error

	// ClosePrefix сообщает, что задач с этим префиксом больше не будет.
	ClosePrefix(prefix string)

	// Publish кладёт значение в shared memory и возвращает имя сегмента.
	Publish(name string, value any) (string, error)

	// Release освобождает публикацию.
	Release(segment string) error
}

type submitterKey struct{}

// WithSubmitter добавляет Submitter в контекст.
func WithSubmitter(ctx context.Context, s Submitter) context.Context {
	return context.WithValue(ctx, submitterKey{}, s)
}

// SubmitterFrom извлекает Submitter из контекста.
// Возвращает false для задач, выполняющихся в воркере.
func SubmitterFrom(ctx context.Context) (Submitter, bool) {
	s, ok := ctx.Value(submitterKey{}).(Submitter)
	return s, ok
}

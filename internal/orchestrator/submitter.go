package orchestrator

import (
	"github.com/shaiso/taskgraph/internal/domain"
)

var _ domain.Submitter = (*Orchestrator)(nil)

// Submit добавляет задачу в граф.
//
// Задача, сразу ставшая готовой, попадает в очередь и будет выполнена
// на ближайшем проходе цикла. Ошибка не меняет граф.
func (o *Orchestrator) Submit(task domain.Task) error {
	if _, err := o.graph.Submit(task); err != nil {
		return err
	}
	o.logger.Debug("task submitted", "task", task.Name, "own", task.Own)
	return nil
}

// SubmitAll добавляет задачи, ссылающиеся друг на друга в любом порядке.
// Проход без прогресса — опечатка в имени или цикл.
func (o *Orchestrator) SubmitAll(tasks []domain.Task) error {
	return o.graph.SubmitAll(tasks)
}

// ClosePrefix сообщает, что задач с префиксом больше не будет.
// Принимает как "scan.file.", так и "scan.file.*".
func (o *Orchestrator) ClosePrefix(prefix string) {
	if domain.IsWildcard(prefix) {
		prefix = domain.WildcardPrefix(prefix)
	}
	o.graph.ClosePrefix(prefix)
	o.logger.Debug("wildcard prefix closed", "prefix", prefix)
}

// Publish кладёт значение в shared memory.
// Имя сегмента передаётся задачам в параметре и в Task.Publications.
func (o *Orchestrator) Publish(name string, value any) (string, error) {
	segment, err := o.exchange.Publish(name, value)
	if err != nil {
		return "", err
	}
	o.logger.Debug("publication created", "segment", segment)
	return segment, nil
}

// Release освобождает публикацию. ErrInUse — её ещё может читать
// незавершённая задача.
func (o *Orchestrator) Release(segment string) error {
	return o.exchange.Release(segment)
}

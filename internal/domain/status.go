package domain

// State — состояние узла графа задач.
//
// Жизненный цикл (только вперёд):
//
//	PENDING → READY → RUNNING → DONE
type State int

const (
	// StatePending — есть незавершённые родители или открытые wildcard-префиксы.
	StatePending State = iota

	// StateReady — все зависимости удовлетворены, задача ждёт планировщика.
	StateReady

	// StateRunning — задача отправлена воркеру или выполняется в оркестраторе.
	StateRunning

	// StateDone — задача завершена, результат доступен детям.
	StateDone
)

// String возвращает строковое представление State.
func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// CanAdvanceTo проверяет допустимость перехода: ровно на один шаг вперёд.
func (s State) CanAdvanceTo(next State) bool {
	return next == s+1 && next <= StateDone
}

// IsTerminal возвращает true, если состояние финальное.
func (s State) IsTerminal() bool {
	return s == StateDone
}

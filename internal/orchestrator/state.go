package orchestrator

import "github.com/shaiso/taskgraph/internal/engine"

// slots — занятость воркеров.
//
// Воркер либо свободен, либо выполняет ровно один пакет.
type slots struct {
	idle     []int
	assigned map[int][]*engine.Node
}

func newSlots(n int) *slots {
	s := &slots{
		idle:     make([]int, 0, n),
		assigned: make(map[int][]*engine.Node, n),
	}
	// Первым берётся воркер с меньшим id
	for id := n - 1; id >= 0; id-- {
		s.idle = append(s.idle, id)
	}
	return s
}

// take занимает свободный воркер. false — свободных нет.
func (s *slots) take() (int, bool) {
	if len(s.idle) == 0 {
		return 0, false
	}
	id := s.idle[len(s.idle)-1]
	s.idle = s.idle[:len(s.idle)-1]
	return id, true
}

func (s *slots) assign(id int, batch []*engine.Node) {
	s.assigned[id] = batch
}

// free освобождает воркер после получения результатов пакета.
func (s *slots) free(id int) {
	delete(s.assigned, id)
	s.idle = append(s.idle, id)
}

func (s *slots) hasIdle() bool {
	return len(s.idle) > 0
}

// outstanding — количество воркеров с незавершённым пакетом.
func (s *slots) outstanding() int {
	return len(s.assigned)
}

func (s *slots) busy(id int) bool {
	_, ok := s.assigned[id]
	return ok
}

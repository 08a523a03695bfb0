package engine

import "container/heap"

// Queue — приоритетная очередь готовых узлов.
//
// Первым извлекается узел с максимальным OwnWeight + CriticalPathWeight;
// при равенстве — добавленный раньше. Узел может находиться
// только в одной очереди одновременно.
type Queue struct {
	h nodeHeap
}

// NewQueue создаёт пустую очередь.
func NewQueue() *Queue {
	return &Queue{}
}

// Push добавляет узел.
func (q *Queue) Push(n *Node) {
	heap.Push(&q.h, n)
}

// Pop извлекает узел с наивысшим приоритетом. nil — очередь пуста.
func (q *Queue) Pop() *Node {
	if q.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*Node)
}

// Peek возвращает узел с наивысшим приоритетом без извлечения.
func (q *Queue) Peek() *Node {
	if q.h.Len() == 0 {
		return nil
	}
	return q.h[0]
}

// Fix восстанавливает порядок после изменения приоритета узла.
// Узлы не из этой очереди игнорируются.
func (q *Queue) Fix(n *Node) {
	if n.index < 0 || n.index >= len(q.h) || q.h[n.index] != n {
		return
	}
	heap.Fix(&q.h, n.index)
}

// Len возвращает количество узлов в очереди.
func (q *Queue) Len() int {
	return q.h.Len()
}

type nodeHeap []*Node

func (h nodeHeap) Len() int { return len(h) }

func (h nodeHeap) Less(i, j int) bool {
	pi, pj := h[i].Priority(), h[j].Priority()
	if pi != pj {
		return pi > pj
	}
	return h[i].Seq < h[j].Seq
}

func (h nodeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *nodeHeap) Push(x any) {
	n := x.(*Node)
	n.index = len(*h)
	*h = append(*h, n)
}

func (h *nodeHeap) Pop() any {
	old := *h
	last := len(old) - 1
	n := old[last]
	old[last] = nil
	n.index = -1
	*h = old[:last]
	return n
}

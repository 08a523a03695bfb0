package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shaiso/taskgraph/internal/domain"
)

// Node — узел графа, обёртка над одной задачей.
type Node struct {
	// Task — описание задачи.
	Task domain.Task

	// Seq — порядковый номер добавления (для детерминированного порядка).
	Seq int

	// State — текущее состояние узла.
	State domain.State

	// Parents — узлы, от которых зависит этот узел.
	Parents []*Node

	// Children — узлы, которые зависят от этого узла.
	Children []*Node

	// OpenPrefixes — wildcard-префиксы, которые ещё не закрыты.
	OpenPrefixes []string

	// OwnWeight — оценка длительности самой задачи в секундах.
	OwnWeight float64

	// CriticalPathWeight — максимум по детям (child.OwnWeight + child.CriticalPathWeight).
	CriticalPathWeight float64

	// Waiting — количество неудовлетворённых родителей.
	Waiting int

	// Output — результат выполнения (после DONE).
	Output any

	// Worker — воркер, которому отправлена задача (-1 для own-задач).
	Worker int

	// StartedAt — время отправки задачи на выполнение.
	StartedAt time.Time

	// Elapsed — измеренная длительность выполнения.
	Elapsed time.Duration

	matched    map[string][]*Node // prefix → родители, найденные по wildcard
	guaranteed map[string]struct{}
	index      int // позиция в Queue, -1 если узел не в очереди
}

// Name возвращает имя задачи.
func (n *Node) Name() string {
	return n.Task.Name
}

// Priority — ключ приоритетной очереди.
func (n *Node) Priority() float64 {
	return n.OwnWeight + n.CriticalPathWeight
}

// Options — настройки графа.
type Options struct {
	// Weigh возвращает оценку длительности задачи. nil — нулевой вес.
	Weigh func(task domain.Task) float64

	// OnReady вызывается, когда узел переходит в READY.
	OnReady func(n *Node)

	// OnPriority вызывается, когда у узла вырос CriticalPathWeight.
	OnPriority func(n *Node)

	// CheckDataDeps включает проверку тегов данных.
	CheckDataDeps bool

	// Admit — последняя проверка перед изменением графа.
	// Ошибка отклоняет задачу; после успешного Admit Submit не может упасть.
	Admit func(task domain.Task) error
}

// Graph — динамический граф задач.
//
// Задачи добавляются до запуска и во время выполнения (из own-задач).
// Узел создаётся сразу при Submit и живёт до конца запуска.
type Graph struct {
	opts Options

	nodes    map[string]*Node
	order    []*Node
	patterns map[string]*pattern

	done    int
	ownOpen int // own-задачи, ещё не достигшие DONE

	current *Node // выполняющаяся own-задача
}

// NewGraph создаёт пустой граф.
func NewGraph(opts Options) *Graph {
	return &Graph{
		opts:     opts,
		nodes:    make(map[string]*Node),
		patterns: make(map[string]*pattern),
	}
}

// Submit добавляет задачу в граф.
//
// Точные зависимости должны уже существовать в графе; wildcard-зависимости
// подхватывают как существующие, так и будущие задачи с префиксом.
// При ошибке граф не изменяется.
func (g *Graph) Submit(task domain.Task) (*Node, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if _, exists := g.nodes[task.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, task.Name)
	}

	// Первый проход: только проверки, граф не трогаем.
	parents := make([]*Node, 0, len(task.Dependencies))
	for _, dep := range task.Dependencies {
		if domain.IsWildcard(dep) {
			parents = append(parents, g.matchExisting(domain.WildcardPrefix(dep), task.Name)...)
			continue
		}
		parent, ok := g.nodes[dep]
		if !ok {
			return nil, fmt.Errorf("%w: %s needs %s", ErrUnknownDependency, task.Name, dep)
		}
		parents = append(parents, parent)
	}

	if prefix, closed := g.closedPrefixFor(task.Name); closed {
		return nil, fmt.Errorf("%w: %s matches %s", ErrPrefixClosed, task.Name, domain.Wildcard(prefix))
	}

	waiters := g.waitersFor(task.Name)
	if len(waiters) > 0 {
		ancestors := collectAncestors(parents)
		for _, w := range waiters {
			if _, ok := ancestors[w]; ok {
				return nil, fmt.Errorf("%w: %s is both an ancestor and a wildcard dependent of %s",
					ErrCyclicDependency, w.Name(), task.Name)
			}
		}
	}

	if g.opts.CheckDataDeps {
		if err := g.checkDataDeps(&task, parents); err != nil {
			return nil, err
		}
	}

	if g.opts.Admit != nil {
		if err := g.opts.Admit(task); err != nil {
			return nil, err
		}
	}

	// Второй проход: изменяем граф.
	node := &Node{
		Task:    task,
		Seq:     len(g.order),
		State:   domain.StatePending,
		Worker:  -1,
		matched: make(map[string][]*Node),
		index:   -1,
	}
	if g.opts.Weigh != nil {
		node.OwnWeight = g.opts.Weigh(task)
	}
	g.nodes[task.Name] = node
	g.order = append(g.order, node)
	if task.Own {
		g.ownOpen++
	}

	for _, dep := range task.Dependencies {
		if domain.IsWildcard(dep) {
			g.linkWildcard(node, domain.WildcardPrefix(dep))
			continue
		}
		g.addEdge(g.nodes[dep], node)
	}

	// Новая задача становится родителем всех, кто ждёт её префикс.
	for _, w := range waiters {
		for _, prefix := range w.OpenPrefixes {
			if strings.HasPrefix(task.Name, prefix) {
				w.matched[prefix] = append(w.matched[prefix], node)
			}
		}
		g.addEdge(node, w)
	}

	node.guaranteed = g.guaranteedFor(&task, node.Parents)

	if node.Waiting == 0 {
		g.markReady(node)
	}

	return node, nil
}

// SubmitAll добавляет пачку задач, которые могут ссылаться друг на друга
// в произвольном порядке.
//
// Задачи с ErrUnknownDependency повторяются, пока проход добавляет
// хотя бы одну задачу. Проход без прогресса — опечатка или цикл.
func (g *Graph) SubmitAll(tasks []domain.Task) error {
	pending := tasks
	for len(pending) > 0 {
		rest := make([]domain.Task, 0, len(pending))
		for _, task := range pending {
			if _, err := g.Submit(task); err != nil {
				if errors.Is(err, ErrUnknownDependency) {
					rest = append(rest, task)
					continue
				}
				return err
			}
		}

		if len(rest) == len(pending) {
			names := make([]string, len(rest))
			for i := range rest {
				names[i] = rest[i].Name
			}
			return fmt.Errorf("%w: %s", ErrUnresolvedDependencies, strings.Join(names, ", "))
		}
		pending = rest
	}
	return nil
}

// MarkRunning переводит узел READY → RUNNING.
func (g *Graph) MarkRunning(n *Node) error {
	if err := g.advance(n, domain.StateRunning); err != nil {
		return err
	}
	n.StartedAt = time.Now()
	return nil
}

// MarkDone переводит узел RUNNING → DONE и распространяет готовность детям.
func (g *Graph) MarkDone(n *Node, output any) error {
	if err := g.advance(n, domain.StateDone); err != nil {
		return err
	}
	n.Output = output
	g.done++
	if n.Task.Own {
		g.ownOpen--
	}

	for _, child := range n.Children {
		child.Waiting--
		if child.Waiting == 0 && child.State == domain.StatePending {
			g.markReady(child)
		}
	}
	return nil
}

// DepOutputs собирает результаты зависимостей в порядке объявления.
func (g *Graph) DepOutputs(n *Node) []any {
	outputs := make([]any, len(n.Task.Dependencies))
	for i, dep := range n.Task.Dependencies {
		if domain.IsWildcard(dep) {
			matched := n.matched[domain.WildcardPrefix(dep)]
			m := make(map[string]any, len(matched))
			for _, parent := range matched {
				m[parent.Name()] = parent.Output
			}
			outputs[i] = m
			continue
		}
		outputs[i] = g.nodes[dep].Output
	}
	return outputs
}

// Node возвращает узел по имени.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes возвращает узлы в порядке добавления.
func (g *Graph) Nodes() []*Node {
	return g.order
}

// Len возвращает количество узлов.
func (g *Graph) Len() int {
	return len(g.order)
}

// Done возвращает количество завершённых узлов.
func (g *Graph) Done() int {
	return g.done
}

// Complete проверяет, все ли узлы завершены.
func (g *Graph) Complete() bool {
	return g.done == len(g.order)
}

// CanGrow возвращает true, пока хотя бы одна own-задача не завершена:
// только own-задачи добавляют задачи во время выполнения.
func (g *Graph) CanGrow() bool {
	return g.ownOpen > 0
}

// SetCurrent отмечает выполняющуюся own-задачу (nil — никакая).
func (g *Graph) SetCurrent(n *Node) {
	g.current = n
}

// Stats возвращает количество узлов по состояниям.
func (g *Graph) Stats() map[domain.State]int {
	stats := make(map[domain.State]int, 4)
	for _, n := range g.order {
		stats[n.State]++
	}
	return stats
}

// Pending возвращает имена незавершённых узлов (для диагностики дедлоков).
func (g *Graph) Pending() []string {
	names := make([]string, 0)
	for _, n := range g.order {
		if n.State != domain.StateDone {
			names = append(names, n.Name())
		}
	}
	sort.Strings(names)
	return names
}

// addEdge добавляет ребро parent → child.
func (g *Graph) addEdge(parent, child *Node) {
	parent.Children = append(parent.Children, child)
	child.Parents = append(child.Parents, parent)
	if parent.State != domain.StateDone {
		child.Waiting++
	}
	g.propagate(parent, child.OwnWeight+child.CriticalPathWeight)
}

// propagate поднимает CriticalPathWeight вверх по графу. Значение только растёт.
func (g *Graph) propagate(n *Node, candidate float64) {
	if candidate <= n.CriticalPathWeight {
		return
	}
	n.CriticalPathWeight = candidate
	if g.opts.OnPriority != nil {
		g.opts.OnPriority(n)
	}
	for _, parent := range n.Parents {
		g.propagate(parent, n.OwnWeight+n.CriticalPathWeight)
	}
}

func (g *Graph) markReady(n *Node) {
	n.State = domain.StateReady
	if g.opts.OnReady != nil {
		g.opts.OnReady(n)
	}
}

func (g *Graph) advance(n *Node, next domain.State) error {
	if !n.State.CanAdvanceTo(next) {
		return fmt.Errorf("%w: %s %s → %s", ErrInvalidTransition, n.Name(), n.State, next)
	}
	n.State = next
	return nil
}

// collectAncestors возвращает всех предков (включая самих parents).
func collectAncestors(parents []*Node) map[*Node]struct{} {
	seen := make(map[*Node]struct{})
	stack := append([]*Node(nil), parents...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		stack = append(stack, n.Parents...)
	}
	return seen
}

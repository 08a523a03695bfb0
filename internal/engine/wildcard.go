package engine

import (
	"sort"
	"strings"

	"github.com/shaiso/taskgraph/internal/domain"
)

// pattern — wildcard-префикс, на который подписаны узлы.
//
// Пока префикс открыт, каждый ожидающий узел считает его
// неудовлетворённым родителем. Закрытие снимает это ожидание;
// после закрытия задачи с таким префиксом добавлять нельзя.
type pattern struct {
	prefix  string
	waiters []*Node
	closed  bool
}

// ClosePrefix закрывает префикс и все более длинные открытые префиксы под ним.
//
// Это явный сигнал "задач с этим префиксом больше не будет".
// Закрыть можно и префикс, на который ещё никто не подписан.
func (g *Graph) ClosePrefix(prefix string) {
	for _, p := range g.sortedPatterns() {
		pat := g.patterns[p]
		if !pat.closed && strings.HasPrefix(p, prefix) {
			g.closePattern(pat)
		}
	}
	if _, ok := g.patterns[prefix]; !ok {
		g.patterns[prefix] = &pattern{prefix: prefix, closed: true}
	}
}

// CloseOpenPrefixes закрывает все открытые префиксы.
//
// Используется планировщиком, когда не осталось незавершённых own-задач
// и новых задач появиться уже не может. Возвращает количество закрытых префиксов.
func (g *Graph) CloseOpenPrefixes() int {
	closed := 0
	for _, p := range g.sortedPatterns() {
		pat := g.patterns[p]
		if !pat.closed {
			g.closePattern(pat)
			closed++
		}
	}
	return closed
}

// CloseBlockingPrefix закрывает один открытый префикс, чтобы граф,
// в котором ничего не выполняется и ничего не готово, мог продвинуться.
//
// Задачи добавляют только own-задачи. Если все незавершённые own-задачи
// лежат ниже ожидающих префикса, добавить в него уже некому: такой
// префикс закрывается первым. Иначе закрывается префикс с самым ранним
// подписчиком. Остальные префиксы остаются открытыми: own-задачи,
// ставшие готовыми, ещё могут в них добавить задачи.
func (g *Graph) CloseBlockingPrefix() (string, bool) {
	open := make([]*pattern, 0)
	for _, p := range g.sortedPatterns() {
		if pat := g.patterns[p]; !pat.closed {
			open = append(open, pat)
		}
	}
	if len(open) == 0 {
		return "", false
	}
	sort.SliceStable(open, func(i, j int) bool {
		return firstSeq(open[i]) < firstSeq(open[j])
	})

	pick := open[0]
	owners := g.unfinishedOwn()
	for _, pat := range open {
		if coversAll(downstream(pat.waiters), owners) {
			pick = pat
			break
		}
	}

	g.closePattern(pick)
	return pick.prefix, true
}

func (g *Graph) unfinishedOwn() []*Node {
	owners := make([]*Node, 0)
	for _, n := range g.order {
		if n.Task.Own && n.State != domain.StateDone {
			owners = append(owners, n)
		}
	}
	return owners
}

// downstream — ожидающие узлы и все их потомки.
func downstream(from []*Node) map[*Node]struct{} {
	seen := make(map[*Node]struct{}, len(from))
	stack := append([]*Node(nil), from...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		stack = append(stack, n.Children...)
	}
	return seen
}

func coversAll(set map[*Node]struct{}, nodes []*Node) bool {
	for _, n := range nodes {
		if _, ok := set[n]; !ok {
			return false
		}
	}
	return true
}

// firstSeq — порядковый номер самого раннего подписчика префикса.
func firstSeq(pat *pattern) int {
	first := -1
	for _, w := range pat.waiters {
		if first < 0 || w.Seq < first {
			first = w.Seq
		}
	}
	return first
}

// OpenPrefixes возвращает открытые префиксы в отсортированном порядке.
func (g *Graph) OpenPrefixes() []string {
	open := make([]string, 0)
	for _, p := range g.sortedPatterns() {
		if !g.patterns[p].closed {
			open = append(open, p)
		}
	}
	return open
}

// linkWildcard подписывает узел на префикс: связывает с уже существующими
// задачами и, если префикс открыт, ставит узел в ожидание будущих.
func (g *Graph) linkWildcard(n *Node, prefix string) {
	for _, parent := range g.matchExisting(prefix, n.Name()) {
		n.matched[prefix] = append(n.matched[prefix], parent)
		g.addEdge(parent, n)
	}

	if _, closed := g.closedPrefixFor(prefix); closed {
		return
	}

	pat, ok := g.patterns[prefix]
	if !ok {
		pat = &pattern{prefix: prefix}
		g.patterns[prefix] = pat
	}
	pat.waiters = append(pat.waiters, n)
	n.OpenPrefixes = append(n.OpenPrefixes, prefix)
	n.Waiting++
}

func (g *Graph) closePattern(pat *pattern) {
	pat.closed = true
	for _, w := range pat.waiters {
		w.OpenPrefixes = removeString(w.OpenPrefixes, pat.prefix)
		w.Waiting--
		if w.Waiting == 0 && w.State == domain.StatePending {
			g.markReady(w)
		}
	}
	pat.waiters = nil
}

// matchExisting возвращает уже добавленные задачи с префиксом, кроме self.
func (g *Graph) matchExisting(prefix, self string) []*Node {
	matched := make([]*Node, 0)
	for _, n := range g.order {
		if n.Name() != self && strings.HasPrefix(n.Name(), prefix) {
			matched = append(matched, n)
		}
	}
	return matched
}

// closedPrefixFor ищет закрытый префикс, под который попадает name.
func (g *Graph) closedPrefixFor(name string) (string, bool) {
	for _, p := range g.sortedPatterns() {
		if g.patterns[p].closed && strings.HasPrefix(name, p) {
			return p, true
		}
	}
	return "", false
}

// waitersFor возвращает узлы, ожидающие открытые префиксы, под которые попадает name.
func (g *Graph) waitersFor(name string) []*Node {
	seen := make(map[*Node]bool)
	waiters := make([]*Node, 0)
	for _, p := range g.sortedPatterns() {
		pat := g.patterns[p]
		if pat.closed || !strings.HasPrefix(name, p) {
			continue
		}
		for _, w := range pat.waiters {
			if !seen[w] {
				seen[w] = true
				waiters = append(waiters, w)
			}
		}
	}
	sort.Slice(waiters, func(i, j int) bool { return waiters[i].Seq < waiters[j].Seq })
	return waiters
}

func (g *Graph) sortedPatterns() []string {
	keys := make([]string, 0, len(g.patterns))
	for p := range g.patterns {
		keys = append(keys, p)
	}
	sort.Strings(keys)
	return keys
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

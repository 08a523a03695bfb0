package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shaiso/taskgraph/internal/domain"
)

// checkDataDeps проверяет теги данных новой задачи.
//
// Доступные теги — объединение гарантий всех найденных родителей и,
// если задачу добавляет own-задача, гарантий этой own-задачи.
func (g *Graph) checkDataDeps(task *domain.Task, parents []*Node) error {
	if task.Data == nil {
		return nil
	}

	available := make(map[string]struct{})
	for _, p := range parents {
		for tag := range p.guaranteed {
			available[tag] = struct{}{}
		}
	}
	if g.current != nil {
		for tag := range g.current.guaranteed {
			available[tag] = struct{}{}
		}
	}

	var missing, forbidden []string
	for _, tag := range task.Data.Requires {
		if _, ok := available[tag]; !ok {
			missing = append(missing, tag)
		}
	}
	for _, tag := range task.Data.Forbids {
		if _, ok := available[tag]; ok {
			forbidden = append(forbidden, tag)
		}
	}

	if len(missing) == 0 && len(forbidden) == 0 {
		return nil
	}

	sort.Strings(missing)
	sort.Strings(forbidden)
	return fmt.Errorf("%w: %s: missing [%s], forbidden [%s]", ErrDataDependency,
		task.Name, strings.Join(missing, ","), strings.Join(forbidden, ","))
}

// guaranteedFor — теги, гарантированные после завершения задачи:
// собственные Provides плюс гарантии родителей.
func (g *Graph) guaranteedFor(task *domain.Task, parents []*Node) map[string]struct{} {
	tags := make(map[string]struct{})
	for _, p := range parents {
		for tag := range p.guaranteed {
			tags[tag] = struct{}{}
		}
	}
	if task.Data != nil {
		for _, tag := range task.Data.Provides {
			tags[tag] = struct{}{}
		}
	}
	return tags
}

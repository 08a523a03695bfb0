package worker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/taskgraph/internal/domain"
)

// Registry — реестр функций задач по имени.
//
// Потокобезопасен.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]domain.Func
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		funcs: make(map[string]domain.Func),
	}
}

// Register регистрирует функцию.
// Если функция с таким именем уже существует, она будет перезаписана.
func (r *Registry) Register(name string, fn domain.Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Get возвращает функцию по имени.
// Возвращает ErrUnknownFunc, если функция не найдена.
func (r *Registry) Get(name string) (domain.Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, exists := r.funcs[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunc, name)
	}
	return fn, nil
}

// Has проверяет, зарегистрирована ли функция.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.funcs[name]
	return exists
}

// Names возвращает отсортированный список имён.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package weights

import (
	"context"
	"log/slog"
	"maps"
	"sync"
)

// Store — хранилище таблицы весов.
type Store interface {
	Load(ctx context.Context) (map[string]float64, error)
	Save(ctx context.Context, weights map[string]float64) error
}

// Table — таблица весов: имя задачи → ожидаемая длительность в секундах.
type Table struct {
	mu      sync.Mutex
	store   Store
	weights map[string]float64
}

// New создаёт пустую таблицу. store может быть nil — тогда Save ничего не делает.
func New(store Store) *Table {
	return &Table{
		store:   store,
		weights: make(map[string]float64),
	}
}

// Load загружает таблицу из store.
//
// Ошибка загрузки не фатальна: пишется предупреждение,
// таблица остаётся пустой.
func Load(ctx context.Context, store Store, logger *slog.Logger) *Table {
	t := New(store)
	if store == nil {
		return t
	}
	if logger == nil {
		logger = slog.Default()
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		logger.Warn("weight table not loaded, starting empty", "error", err)
		return t
	}
	for name, w := range loaded {
		if w >= 0 {
			t.weights[name] = w
		}
	}
	logger.Debug("weight table loaded", "entries", len(t.weights))
	return t
}

// Estimate возвращает оценку для задачи.
func (t *Table) Estimate(name string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.weights[name]
	return w, ok
}

// Observe учитывает измеренное время и возвращает новую оценку:
// среднее прежней оценки и измерения, либо само измерение,
// если оценки не было.
func (t *Table) Observe(name string, seconds float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.weights[name]; ok {
		seconds = (prev + seconds) / 2
	}
	t.weights[name] = seconds
	return seconds
}

// Snapshot возвращает копию таблицы.
func (t *Table) Snapshot() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.weights)
}

// Len возвращает количество записей.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.weights)
}

// Save сохраняет таблицу в store.
func (t *Table) Save(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	return t.store.Save(ctx, t.Snapshot())
}

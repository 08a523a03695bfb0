package domain

import (
	"context"
	"fmt"
	"strings"
)

// WildcardMarker — суффикс зависимости, превращающий её в префикс.
//
// Зависимость "scan.file.*" означает "все задачи, чьё имя начинается
// с scan.file.", как уже известные, так и добавленные позже.
const WildcardMarker = "*"

// Func — функция, выполняющая работу задачи.
//
// Deps всегда содержит ровно по одному элементу на каждую объявленную
// зависимость в порядке объявления. Для wildcard-зависимости элемент
// имеет тип map[string]any (имя задачи → её результат).
type Func func(ctx context.Context, in Input) (any, error)

// Input — входные данные одного вызова Func.
type Input struct {
	// Param — параметр задачи (Task.Param).
	Param any

	// Deps — результаты зависимостей в порядке Task.Dependencies.
	Deps []any
}

// DataDeps — теги данных для проверки корректности графа.
//
// Используются только для assert-проверок при добавлении задачи,
// на планирование не влияют.
type DataDeps struct {
	// Requires — теги, которые должны гарантировать родители.
	Requires []string `json:"requires,omitempty"`

	// Forbids — теги, которые не должны присутствовать у родителей.
	Forbids []string `json:"forbids,omitempty"`

	// Provides — теги, которые гарантирует сама задача после завершения.
	Provides []string `json:"provides,omitempty"`
}

// Task — неизменяемое описание единицы работы.
//
// Task создаётся вызывающим кодом до запуска или own-задачей во время
// выполнения. После Submit описание не меняется.
type Task struct {
	// Name — уникальное в пределах запуска имя задачи.
	// Рекомендуется иерархия через точку: "scan.file.mods/a.esp".
	Name string `json:"name"`

	// Func — имя функции в реестре воркера.
	Func string `json:"func"`

	// Param — параметр, передаваемый в Func. Должен кодироваться gob.
	Param any `json:"param,omitempty"`

	// Dependencies — имена зависимостей; имя с суффиксом "*" — wildcard.
	Dependencies []string `json:"dependencies,omitempty"`

	// Weight — явная оценка длительности в секундах. 0 — не задана.
	Weight float64 `json:"weight,omitempty"`

	// Own — задача выполняется в оркестраторе и никогда не уходит воркеру.
	Own bool `json:"own,omitempty"`

	// Publications — сегменты shared memory, которые задача может читать.
	// Пока задача не завершена, эти сегменты нельзя освободить.
	Publications []string `json:"publications,omitempty"`

	// Data — теги данных (только для проверок корректности).
	Data *DataDeps `json:"data,omitempty"`
}

// Validate проверяет описание задачи.
func (t *Task) Validate() error {
	if t.Name == "" {
		return NewValidationError("", "name", "task has empty name", ErrInvalidTask)
	}
	if strings.HasSuffix(t.Name, WildcardMarker) {
		return NewValidationError(t.Name, "name", "task name must not end with wildcard marker", ErrInvalidTask)
	}
	if t.Func == "" {
		return NewValidationError(t.Name, "func", "task has empty func", ErrInvalidTask)
	}
	if t.Weight < 0 {
		return NewValidationError(t.Name, "weight", fmt.Sprintf("negative weight %v", t.Weight), ErrInvalidTask)
	}

	seen := make(map[string]bool, len(t.Dependencies))
	for _, dep := range t.Dependencies {
		if dep == "" || dep == WildcardMarker {
			return NewValidationError(t.Name, "dependencies", "empty dependency", ErrInvalidTask)
		}
		if dep == t.Name {
			return NewValidationError(t.Name, "dependencies", "task depends on itself", ErrInvalidTask)
		}
		if seen[dep] {
			return NewValidationError(t.Name, "dependencies", "duplicate dependency "+dep, ErrInvalidTask)
		}
		seen[dep] = true
	}

	return nil
}

// HasExplicitWeight возвращает true, если вес задан вручную.
func (t *Task) HasExplicitWeight() bool {
	return t.Weight > 0
}

// IsWildcard проверяет, является ли зависимость wildcard-префиксом.
func IsWildcard(dep string) bool {
	return strings.HasSuffix(dep, WildcardMarker)
}

// WildcardPrefix возвращает префикс wildcard-зависимости ("p.*" → "p.").
func WildcardPrefix(dep string) string {
	return strings.TrimSuffix(dep, WildcardMarker)
}

// Wildcard строит wildcard-зависимость из префикса ("p." → "p.*").
func Wildcard(prefix string) string {
	return prefix + WildcardMarker
}

// Package engine содержит граф задач планировщика.
//
// Включает:
//   - dag.go      — узлы, добавление задач, распространение готовности
//   - wildcard.go — таблица wildcard-префиксов и их закрытие
//   - tags.go     — проверка тегов данных (debug-слой корректности)
//   - queue.go    — приоритетная очередь по критическому пути
//
// Граф изменяется только из одной горутины — основного цикла
// оркестратора, поэтому блокировок здесь нет.
package engine

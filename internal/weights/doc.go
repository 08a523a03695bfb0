// Package weights хранит оценки длительности задач.
//
// Оценка (в секундах) влияет только на приоритет и упаковку пакетов,
// но не на корректность. Таблица загружается при старте, обновляется
// по мере завершения задач и сохраняется только при чистом завершении.
package weights

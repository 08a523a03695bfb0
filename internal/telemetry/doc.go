// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog (json, text, pretty)
//   - metrics.go — Prometheus метрики планировщика
//
// Метрики экспортируются на /metrics, если задан metrics.addr.
package telemetry

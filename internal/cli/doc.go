// Package cli реализует команды taskgraph.
//
// # Команды
//
//   - scan <dir> — сканирует папку и пишет манифест хэшей файлов
//   - weights show — выводит таблицу весов задач
//   - worker — скрытая команда, которой оркестратор запускает воркеры
//
// Каждая команда создаётся фабричной функцией (NewScanCmd и т.д.),
// принимающей configFn и outputFn — замыкания для ленивой загрузки
// настроек и создания Output после парсинга PersistentFlags.
//
// # Output
//
// Данные выводятся в stdout таблицей (text/tabwriter) или JSON
// (флаг --json), сообщения — в stderr:
//
//	taskgraph weights show --json | jq .
package cli

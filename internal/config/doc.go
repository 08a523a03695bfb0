// Package config загружает настройки taskgraph.
//
// Источники по возрастанию приоритета: значения по умолчанию,
// файл конфигурации (--config), переменные окружения TASKGRAPH_*,
// флаги командной строки.
package config

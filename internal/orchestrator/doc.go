// Package orchestrator выполняет граф задач на пуле воркеров.
//
// Orchestrator отвечает за:
//   - Приём задач до запуска и во время выполнения (из own-задач)
//   - Выполнение готовых own-задач в своей горутине
//   - Упаковку готовых задач воркеров в пакеты по весу и их отправку
//   - Обработку результатов: время, веса, DONE, готовность детей
//   - Закрытие wildcard-префиксов, когда новых задач быть не может
//   - Аварийное завершение при первой ошибке любой задачи
//
// Граф, очереди и таблица весов принадлежат одной горутине — той, что
// выполняет Run. Результаты воркеров приходят в неё через канал.
//
// Порядок завершения:
//
//	веса → освобождение сегментов → relay.Flush → ожидание воркеров → relay.Stop
//
// При ошибке веса не сохраняются, остальные воркеры убиваются.
package orchestrator

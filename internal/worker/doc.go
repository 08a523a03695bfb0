// Package worker выполняет задачи в отдельных процессах.
//
// # Обзор
//
// Воркер — процесс с простым циклом событий: прочитать сообщение из входящей
// очереди; если это пакет задач — выполнить их по порядку и отправить
// результаты; если это уведомление об освобождении — удалить свой
// Return-сегмент. Воркер сам никогда не начинает обмен: он только отвечает
// в очередь результатов и пишет логи.
//
// Ошибка любой задачи прерывает пакет: воркер отправляет описание ошибки
// и завершает цикл. Останавливать остальных — дело оркестратора.
//
// # Ключевые компоненты
//
// ## Registry
//
// Функции задач нельзя передать между процессами, поэтому задача ссылается
// на функцию по имени. Реестр заполняется одинаково в оркестраторе и
// воркерах, обычно в init() пакета с задачами:
//
//	reg := worker.NewRegistry()
//	reg.Register("scan.hash", hashFile)
//
// ## Serve
//
// Цикл событий воркера поверх трёх потоков: входящая очередь, очередь
// результатов, поток логов. ServeStdio использует stdin/stdout/stderr.
//
// ## Launcher
//
//   - ProcessLauncher — повторный запуск текущего бинарника со скрытой
//     командой worker
//   - InProcessLauncher — горутина и io.Pipe; для тестов и --inproc
//
// # Большие результаты
//
// Результат, gob-представление которого больше ReturnThreshold, кладётся
// в Return-сегмент; в очередь уходит только ссылка.
package worker

// Package logrelay собирает логи всех воркеров в один упорядоченный поток.
//
// Воркер пишет записи через StreamHandler: каждая запись получает pid и
// время в момент вызова логгера и кодируется msgpack в поток stderr.
// В оркестраторе Relay читает эти потоки (Pump), складывает записи в общую
// очередь, а единственная горутина relay выдаёт их в настоящий slog.Handler
// в порядке времени, добавляя к сообщениям воркеров префикс [pid].
//
// Завершение двухфазное:
//
//	relay.Flush() // маркер + ack: всё, что было в очереди, выдано
//	pool.Wait()   // ждём воркеры
//	relay.Stop()  // финальная остановка
package logrelay

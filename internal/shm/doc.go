// Package shm передаёт большие значения между процессами в обход очередей.
//
// Сегмент — файл в tmpfs (/dev/shm), содержимое пишется и читается
// через mmap. Два вида сегментов:
//
//   - Publication: создаёт оркестратор до отправки задач, воркеры читают
//     только на чтение, первое чтение кэшируется в процессе. Освобождается
//     оркестратором, когда ни одна незавершённая задача её не читает.
//   - Return: создаёт воркер для слишком большого результата, оркестратор
//     читает его один раз и шлёт владельцу уведомление об освобождении.
//
// Значения сериализуются gob; конкретные типы внутри any нужно
// зарегистрировать (mq.Register).
package shm

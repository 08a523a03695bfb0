// Package mq — очереди сообщений между оркестратором и воркерами.
//
// Каждый воркер связан с оркестратором двумя потоками байт: входящая
// очередь (оркестратор → воркер) и очередь результатов (воркер → оркестратор).
// Сообщения кодируются gob, поэтому значения параметров и результатов
// сохраняют конкретный тип. Пользовательские типы регистрируются через Register.
//
// Структура:
//   - message.go   — типы сообщений
//   - publisher.go — запись сообщений в поток
//   - consumer.go  — чтение сообщений из потока
//
// Типы сообщений:
//   - task.batch     — пакет задач для воркера
//   - return.release — Return-сегмент прочитан, владелец может его удалить
//   - task.results   — результаты пакета
//   - task.failed    — задача завершилась ошибкой, воркер останавливается
package mq

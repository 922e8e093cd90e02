// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - instance.created — создан экземпляр, ожидающий запуска
//   - timer.due        — сработал таймер приостановленного экземпляра
//   - signal.raised    — широковещательный сигнал ожидающим экземплярам
//   - event.occurred   — внешнее событие для подписанных определений
//
// Exchanges:
//   - dirigent.instances — жизненный цикл экземпляров
//   - dirigent.signals   — сигналы и внешние события
//   - dirigent.dlq       — dead letter queue
package mq

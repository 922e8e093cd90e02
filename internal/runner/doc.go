// Package runner реализует воркер выполнения процессов.
//
// Runner связывает брокер сообщений с движком: потребляет события
// instance.created, timer.due, signal.raised и event.occurred из
// RabbitMQ и передаёт их соответствующим операциям движка.
//
// Без RabbitMQ Runner работает в polling-режиме: периодически
// выбирает PENDING-экземпляры из хранилища и запускает их. Polling
// также работает как fallback при недоступности брокера.
//
// Несколько Runner'ов могут работать параллельно: lease-блокировки
// движка исключают одновременное выполнение одного экземпляра,
// а гонки за запуск (ErrInvalidState) обрабатываются как успех.
package runner

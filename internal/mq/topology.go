package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeInstances Exchange = "dirigent.instances"
	ExchangeSignals   Exchange = "dirigent.signals"
	ExchangeDLQ       Exchange = "dirigent.dlq"
)

// Queues — имена очередей.
const (
	QueueInstancesPending Queue = "instances.pending"
	QueueInstancesTimers  Queue = "instances.timers"
	QueueSignalsInbox     Queue = "signals.inbox"
	QueueDLQInstances     Queue = "dlq.instances"
)

// Routing keys.
const (
	RoutingKeyPending      RoutingKey = "pending"
	RoutingKeyTimer        RoutingKey = "timer"
	RoutingKeySignal       RoutingKey = "signal"
	RoutingKeyEvent        RoutingKey = "event"
	RoutingKeyDLQInstances RoutingKey = "instances"
)

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		if err := bindQueues(ch); err != nil {
			return err
		}

		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeInstances, "direct"},
		{ExchangeSignals, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Аргументы для очередей с DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQInstances),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// instances.pending — с DLQ (неудачные запуски уходят в DLQ)
		{QueueInstancesPending, dlqArgs},

		// instances.timers — с DLQ (сработавшие таймеры)
		{QueueInstancesTimers, dlqArgs},

		// signals.inbox — без DLQ (сигнал без ожидающих — не ошибка)
		{QueueSignalsInbox, nil},

		// dlq.instances — сама DLQ очередь
		{QueueDLQInstances, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueInstancesPending, RoutingKeyPending, ExchangeInstances},
		{QueueInstancesTimers, RoutingKeyTimer, ExchangeInstances},
		{QueueSignalsInbox, RoutingKeySignal, ExchangeSignals},
		{QueueSignalsInbox, RoutingKeyEvent, ExchangeSignals},
		{QueueDLQInstances, RoutingKeyDLQInstances, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Dirigent RabbitMQ Topology:

    dirigent.instances (direct)
    ├── instances.pending [routing: pending]
    │       Consumer: Engine (запуск созданных экземпляров)
    │       DLQ: dlq.instances
    └── instances.timers [routing: timer]
            Consumer: Engine (возобновление по таймерам)
            DLQ: dlq.instances

    dirigent.signals (direct)
    └── signals.inbox [routing: signal, event]
            Consumer: Engine (broadcast сигналов, событийные запуски)

    dirigent.dlq (direct)
    └── dlq.instances [routing: instances]
            Manual processing
  `
}

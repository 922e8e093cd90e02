package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Dirigent/internal/domain"
	"github.com/shaiso/Dirigent/internal/engine"
	"github.com/shaiso/Dirigent/internal/mq"
	"github.com/shaiso/Dirigent/internal/store"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
	defaultPrefetch     = 5
)

// Runner доводит экземпляры процессов до выполнения.
//
// Runner — stateless компонент системы, который:
//   - Получает события из очередей RabbitMQ (event-driven):
//     instances.pending, instances.timers, signals.inbox
//   - Периодически проверяет PENDING-экземпляры в БД (polling fallback)
//   - Передаёт работу движку: Start, ResumeDueTimer, BroadcastSignal,
//     TriggerEvent
//
// Runners масштабируются горизонтально — lease-блокировки движка
// гарантируют, что экземпляр выполняет не более одного воркера.
type Runner struct {
	engine    *engine.Engine
	instances store.InstanceStore
	timers    store.TimerStore

	// MQ
	conn      *mq.Connection
	consumers []*mq.Consumer

	// Configuration
	pollInterval time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Runner.
type Config struct {
	// Engine — движок процессов.
	Engine *engine.Engine

	// Stores
	Instances store.InstanceStore
	Timers    store.TimerStore

	// Conn — подключение к RabbitMQ (опционально; nil — polling-only).
	Conn *mq.Connection

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество экземпляров за один poll (default: 50)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Runner.
func New(cfg Config) *Runner {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		engine:       cfg.Engine,
		instances:    cfg.Instances,
		timers:       cfg.Timers,
		conn:         cfg.Conn,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Start запускает Runner.
//
// Запускает:
//   - Consumers для instances.pending, instances.timers, signals.inbox
//     (если настроено подключение к MQ)
//   - Polling горутину для fallback
func (r *Runner) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancelFunc = cancel

	r.logger.Info("starting runner",
		"poll_interval", r.pollInterval,
		"batch_size", r.batchSize,
	)

	if r.conn != nil {
		r.startConsumer(ctx, string(mq.QueueInstancesPending), r.handleInstancePending)
		r.startConsumer(ctx, string(mq.QueueInstancesTimers), r.handleTimerDue)
		r.startConsumer(ctx, string(mq.QueueSignalsInbox), r.handleSignalInbox)
	}

	// Запускаем polling
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pollLoop(ctx)
	}()

	r.logger.Info("runner started")
	return nil
}

// startConsumer создаёт и запускает consumer очереди.
func (r *Runner) startConsumer(ctx context.Context, queue string, h mq.Handler) {
	c := mq.NewConsumer(r.conn, r.logger, mq.ConsumerConfig{
		Queue:    queue,
		Handler:  h,
		Prefetch: defaultPrefetch,
	})
	r.consumers = append(r.consumers, c)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("consumer error", "queue", queue, "error", err)
		}
	}()
}

// Stop останавливает Runner.
func (r *Runner) Stop() {
	r.stoppedMu.Lock()
	r.stopped = true
	r.stoppedMu.Unlock()

	r.logger.Info("stopping runner...")

	if r.cancelFunc != nil {
		r.cancelFunc()
	}

	for _, c := range r.consumers {
		c.Stop()
	}

	// Ждём завершения горутин
	r.wg.Wait()

	r.logger.Info("runner stopped")
}

// IsStopped проверяет, остановлен ли Runner.
func (r *Runner) IsStopped() bool {
	r.stoppedMu.RLock()
	defer r.stoppedMu.RUnlock()
	return r.stopped
}

// pollLoop — цикл polling для fallback.
func (r *Runner) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем экземпляры,
	// созданные пока runner был выключен)
	r.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling: запускает PENDING-экземпляры.
func (r *Runner) poll(ctx context.Context) {
	pending, _, err := r.instances.Query(ctx, store.InstanceQuery{
		Statuses: []domain.InstanceStatus{domain.StatusPending},
		Limit:    r.batchSize,
	})
	if err != nil {
		r.logger.Error("failed to list pending instances", "error", err)
		return
	}

	if len(pending) == 0 {
		return
	}

	r.logger.Debug("poll found pending instances", "count", len(pending))

	for i := range pending {
		inst := &pending[i]

		if err := r.startInstance(ctx, inst.ID); err != nil {
			r.logger.Error("failed to start instance from poll",
				"instance_id", inst.ID,
				"error", err,
			)
		}
	}
}

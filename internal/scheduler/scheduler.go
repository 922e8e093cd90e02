package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Dirigent/internal/domain"
	"github.com/shaiso/Dirigent/internal/engine"
	"github.com/shaiso/Dirigent/internal/mq"
	"github.com/shaiso/Dirigent/internal/store"
)

// Scheduler — планировщик, возобновляющий экземпляры по сработавшим
// таймерам.
type Scheduler struct {
	timers    store.TimerStore
	engine    *engine.Engine
	publisher *mq.Publisher
	logger    *slog.Logger
	batchSize int
	interval  time.Duration
}

// Config — конфигурация Scheduler.
type Config struct {
	Timers store.TimerStore
	Engine *engine.Engine

	// Publisher — опционален. Если задан, сработавшие таймеры
	// публикуются в RabbitMQ и возобновляются консьюмером движка;
	// иначе возобновление выполняется напрямую.
	Publisher *mq.Publisher

	Logger    *slog.Logger
	BatchSize int           // количество таймеров за один тик (default: 100)
	Interval  time.Duration // период опроса (default: 1s)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		timers:    cfg.Timers,
		engine:    cfg.Engine,
		publisher: cfg.Publisher,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
	}
}

// Run запускает цикл опроса таймеров до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит таймеры с due_at <= now
// 2. Публикует timer.due в RabbitMQ (или возобновляет напрямую)
//
// Ошибки одного таймера не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now()

	due, err := s.timers.GetDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("get due timers: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	s.logger.Debug("found due timers", "count", len(due))

	dispatched := 0
	for i := range due {
		if err := s.dispatch(ctx, due[i]); err != nil {
			s.logger.Error("failed to dispatch timer",
				"timer_id", due[i].ID,
				"instance_id", due[i].InstanceID,
				"bookmark", due[i].BookmarkName,
				"error", err,
			)
			// Таймер остаётся due — следующий тик попробует снова
			continue
		}
		dispatched++
	}

	s.logger.Info("scheduler tick completed",
		"due", len(due),
		"dispatched", dispatched,
	)
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, t domain.Timer) error {
	if s.publisher != nil {
		return s.publisher.PublishTimerDue(ctx, mq.TimerDuePayload{
			TimerID:      t.ID,
			InstanceID:   t.InstanceID,
			BookmarkName: t.BookmarkName,
		})
	}
	return s.engine.ResumeDueTimer(ctx, t)
}

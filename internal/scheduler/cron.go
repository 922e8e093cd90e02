package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Dirigent/internal/domain"
	"github.com/shaiso/Dirigent/internal/engine"
)

// cronParser — парсер cron-выражений (стандартные 5 полей).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	_, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

// NextRun возвращает следующее время срабатывания cron-выражения.
func NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// CronRunner запускает экземпляры по cron-триггерам определений.
//
// Повторные запуски дедуплицируются через CorrelationID вида
// "schedule:<definitionID>:<unix-минута срабатывания>": если другая
// реплика планировщика уже создала экземпляр для этого тика,
// CreateInstance вернёт его вместо создания дубликата.
type CronRunner struct {
	cron   *cron.Cron
	engine *engine.Engine
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewCronRunner создаёт CronRunner.
func NewCronRunner(eng *engine.Engine, logger *slog.Logger) *CronRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &CronRunner{
		cron:    cron.New(cron.WithParser(cronParser)),
		engine:  eng,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// Register регистрирует cron-запуск определения. Повторная регистрация
// того же определения заменяет предыдущее расписание.
func (r *CronRunner) Register(definitionID, cronExpr string, inputs map[string]any) error {
	if err := ValidateCronExpr(cronExpr); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[definitionID]; ok {
		r.cron.Remove(old)
	}

	id, err := r.cron.AddFunc(cronExpr, func() {
		r.fire(definitionID, inputs)
	})
	if err != nil {
		return fmt.Errorf("add cron entry for %s: %w", definitionID, err)
	}
	r.entries[definitionID] = id

	r.logger.Info("registered schedule",
		"definition_id", definitionID,
		"cron", cronExpr,
	)
	return nil
}

// RegisterDefinition регистрирует все schedule-триггеры определения.
func (r *CronRunner) RegisterDefinition(def *domain.ProcessDefinition) error {
	for _, tr := range def.Triggers {
		if tr.Type != domain.TriggerSchedule {
			continue
		}
		if err := r.Register(def.ID, tr.Value, tr.Inputs); err != nil {
			return err
		}
	}
	return nil
}

// Unregister снимает расписание определения.
func (r *CronRunner) Unregister(definitionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.entries[definitionID]; ok {
		r.cron.Remove(id)
		delete(r.entries, definitionID)
	}
}

// Start запускает cron-цикл.
func (r *CronRunner) Start() {
	r.cron.Start()
}

// Stop останавливает cron-цикл и дожидается выполняющихся запусков.
func (r *CronRunner) Stop() {
	<-r.cron.Stop().Done()
}

func (r *CronRunner) fire(definitionID string, inputs map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// Минутная гранулярность cron: одна корреляция на тик
	correlation := fmt.Sprintf("schedule:%s:%d", definitionID, time.Now().Truncate(time.Minute).Unix())

	inst, err := r.engine.CreateInstance(ctx, definitionID, inputs, engine.CreateOptions{
		CorrelationID: correlation,
	})
	if err != nil {
		r.logger.Error("scheduled start failed",
			"definition_id", definitionID,
			"error", err,
		)
		return
	}
	if inst.Status != domain.StatusPending {
		// Другая реплика уже запустила экземпляр этого тика
		r.logger.Debug("schedule tick already started",
			"definition_id", definitionID,
			"instance_id", inst.ID,
		)
		return
	}

	if err := r.engine.Start(ctx, inst.ID); err != nil {
		r.logger.Error("scheduled start failed",
			"definition_id", definitionID,
			"instance_id", inst.ID,
			"error", err,
		)
		return
	}

	r.logger.Info("started instance from schedule",
		"definition_id", definitionID,
		"instance_id", inst.ID,
	)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dirigent/internal/domain"
	"github.com/shaiso/Dirigent/internal/handler"
	"github.com/shaiso/Dirigent/internal/store"
	"github.com/shaiso/Dirigent/internal/telemetry"
)

// Default configuration values.
const (
	defaultLockTTL               = 30 * time.Second
	defaultMaxActivityExecutions = 1000
	defaultActivityTimeout       = 30 * time.Second
)

// Engine — движок выполнения процессов.
//
// Публичная поверхность (API, CLI, планировщик, MQ-консьюмеры):
// CreateInstance, Start, StartNew, Resume, Cancel, Terminate, Retry,
// Signal, BroadcastSignal, TriggerEvent, GetInstance, QueryInstances,
// GetHistory.
//
// Все мутирующие операции выполняются под lease-блокировкой экземпляра:
// не более одного воркера выполняет данный экземпляр одновременно.
type Engine struct {
	definitions store.DefinitionStore
	instances   store.InstanceStore
	timers      store.TimerStore
	registry    *handler.Registry

	holder         string
	lockTTL        time.Duration
	maxActivities  int
	defaultTimeout time.Duration

	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// Config — конфигурация движка.
type Config struct {
	// Stores
	Definitions store.DefinitionStore
	Instances   store.InstanceStore
	Timers      store.TimerStore

	// Registry — allow-list обработчиков task/service_task.
	Registry *handler.Registry

	// Holder — идентификатор воркера для lease-блокировок.
	// По умолчанию генерируется uuid.
	Holder string

	// LockTTL — срок lease-блокировки (default: 30s).
	LockTTL time.Duration

	// MaxActivityExecutions — потолок выполнений activities за запуск,
	// защита от циклических определений (default: 1000).
	MaxActivityExecutions int

	// DefaultActivityTimeout — таймаут activity, если не задан
	// определением (default: 30s).
	DefaultActivityTimeout time.Duration

	// Logger
	Logger *slog.Logger

	// Metrics — опционально; nil отключает запись метрик.
	Metrics *telemetry.Metrics
}

// New создаёт движок.
func New(cfg Config) *Engine {
	holder := cfg.Holder
	if holder == "" {
		holder = "engine-" + uuid.NewString()
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	maxActivities := cfg.MaxActivityExecutions
	if maxActivities <= 0 {
		maxActivities = defaultMaxActivityExecutions
	}
	timeout := cfg.DefaultActivityTimeout
	if timeout <= 0 {
		timeout = defaultActivityTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = handler.NewRegistry()
	}

	return &Engine{
		definitions:    cfg.Definitions,
		instances:      cfg.Instances,
		timers:         cfg.Timers,
		registry:       registry,
		holder:         holder,
		lockTTL:        lockTTL,
		maxActivities:  maxActivities,
		defaultTimeout: timeout,
		logger:         logger,
		metrics:        cfg.Metrics,
	}
}

// Holder возвращает идентификатор воркера движка.
func (e *Engine) Holder() string {
	return e.holder
}

// CreateOptions — параметры создания экземпляра.
type CreateOptions struct {
	// Version — версия определения. 0 — последняя опубликованная.
	Version int

	// TenantID — арендатор.
	TenantID string

	// CorrelationID — внешний ключ корреляции. Если у определения уже
	// есть незавершённый экземпляр с этим ключом, он возвращается
	// вместо создания нового (идемпотентность).
	CorrelationID string

	// ParentInstanceID — родительский экземпляр (под-процессы).
	ParentInstanceID *uuid.UUID
}

// CreateInstance создаёт экземпляр в статусе PENDING.
//
// Валидирует обязательные входные параметры определения; переменные
// заполняются значениями по умолчанию, перекрытыми входными данными.
func (e *Engine) CreateInstance(ctx context.Context, definitionID string, input map[string]any, opts CreateOptions) (*domain.ProcessInstance, error) {
	def, _, err := e.loadDefinition(ctx, definitionID, opts.Version)
	if err != nil {
		return nil, err
	}

	// Идемпотентность по ключу корреляции
	if opts.CorrelationID != "" {
		existing, _, err := e.instances.Query(ctx, store.InstanceQuery{
			DefinitionID:  definitionID,
			CorrelationID: opts.CorrelationID,
			Statuses: []domain.InstanceStatus{
				domain.StatusPending, domain.StatusRunning,
				domain.StatusSuspended, domain.StatusFaulted,
				domain.StatusCompensating,
			},
			Limit: 1,
		})
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return &existing[0], nil
		}
	}

	// Обязательные входные параметры
	for name, vd := range def.Variables {
		if !vd.Required {
			continue
		}
		if _, ok := input[name]; !ok {
			return nil, NewValidationError(name, "required input parameter is missing", nil)
		}
	}

	// Переменные: defaults определения, перекрытые входом
	variables := make(map[string]any)
	for name, vd := range def.Variables {
		if vd.Default != nil {
			variables[name] = vd.Default
		}
	}
	for k, v := range input {
		variables[k] = v
	}

	inst := &domain.ProcessInstance{
		ID:                uuid.New(),
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		TenantID:          opts.TenantID,
		CorrelationID:     opts.CorrelationID,
		ParentInstanceID:  opts.ParentInstanceID,
		Status:            domain.StatusPending,
		Input:             input,
		Variables:         variables,
		CreatedAt:         time.Now(),
	}

	entry := domain.NewHistoryEntry(inst.ID, domain.HistoryInstanceCreated, "", "instance created")
	if err := e.instances.Save(ctx, inst, []domain.HistoryEntry{entry}); err != nil {
		return nil, err
	}

	e.logger.Info("instance created",
		"instance_id", inst.ID,
		"definition_id", def.ID,
		"definition_version", def.Version,
	)
	return inst, nil
}

// Start запускает PENDING-экземпляр и входит в цикл выполнения.
func (e *Engine) Start(ctx context.Context, instanceID uuid.UUID) error {
	return e.withLock(ctx, instanceID, func(inst *domain.ProcessInstance) error {
		if err := guardLifecycle(ctx, inst, domain.StatusRunning, opStart); err != nil {
			return fmt.Errorf("start: %w", err)
		}

		def, graph, err := e.loadDefinition(ctx, inst.DefinitionID, inst.DefinitionVersion)
		if err != nil {
			return err
		}

		inst.MarkRunning()
		inst.CurrentActivityID = def.StartActivityID
		inst.ActiveActivityIDs = []string{def.StartActivityID}

		rs := newRunState(e, inst, graph)
		rs.record(domain.HistoryInstanceStarted, "", "instance started")
		if err := rs.save(ctx); err != nil {
			return err
		}

		e.metrics.InstanceStarted()
		return e.run(ctx, rs)
	})
}

// StartNew создаёт и сразу запускает экземпляр.
func (e *Engine) StartNew(ctx context.Context, definitionID string, input map[string]any, opts CreateOptions) (*domain.ProcessInstance, error) {
	inst, err := e.CreateInstance(ctx, definitionID, input, opts)
	if err != nil {
		return nil, err
	}
	// Идемпотентное создание могло вернуть уже запущенный экземпляр
	if inst.Status != domain.StatusPending {
		return inst, nil
	}
	if err := e.Start(ctx, inst.ID); err != nil {
		return nil, err
	}
	return e.GetInstance(ctx, inst.ID)
}

// Resume возобновляет SUSPENDED-экземпляр по имени bookmark.
//
// Bookmark потребляется ровно один раз; неизвестное имя — ErrBookmarkNotFound
// без изменения состояния. Input сворачивается в контекст как выход
// приостановленной activity.
func (e *Engine) Resume(ctx context.Context, instanceID uuid.UUID, bookmarkName string, input map[string]any) error {
	return e.withLock(ctx, instanceID, func(inst *domain.ProcessInstance) error {
		if err := guardLifecycle(ctx, inst, domain.StatusRunning, opResume); err != nil {
			return fmt.Errorf("resume: %w", err)
		}

		bm, ok := inst.TakeBookmark(bookmarkName)
		if !ok {
			return fmt.Errorf("%w: %q", ErrBookmarkNotFound, bookmarkName)
		}

		_, graph, err := e.loadDefinition(ctx, inst.DefinitionID, inst.DefinitionVersion)
		if err != nil {
			return err
		}
		act, ok := graph.Activity(bm.ActivityID)
		if !ok {
			return fmt.Errorf("%w: bookmark owner %q", ErrActivityNotFound, bm.ActivityID)
		}

		// Сработавшие и отменённые таймеры bookmark больше не нужны
		if e.timers != nil {
			if err := e.timers.Cancel(ctx, inst.ID, bookmarkName); err != nil {
				e.logger.Warn("cancel timers failed", "instance_id", inst.ID, "error", err)
			}
		}

		rs := newRunState(e, inst, graph)
		rs.record(domain.HistoryInstanceResumed, act.ID, "resumed via bookmark "+bookmarkName)

		// Вход Resume — выход приостановленной activity
		rs.cctx.FoldOutput(input)
		inst.CompleteActivity(act.ID)

		inst.MarkRunning()
		next := graph.ResolveNext(act.ID, rs.cctx.Data())
		if next == "" {
			return rs.complete(ctx)
		}
		rs.setCurrent(next)
		if err := rs.save(ctx); err != nil {
			return err
		}
		return e.run(ctx, rs)
	})
}

// Cancel отменяет незавершённый экземпляр.
func (e *Engine) Cancel(ctx context.Context, instanceID uuid.UUID, reason string) error {
	return e.terminate(ctx, instanceID, reason, "instance cancelled")
}

// Terminate принудительно завершает экземпляр. Семантика Cancel
// с отдельной записью в журнале.
func (e *Engine) Terminate(ctx context.Context, instanceID uuid.UUID, reason string) error {
	return e.terminate(ctx, instanceID, reason, "instance terminated")
}

func (e *Engine) terminate(ctx context.Context, instanceID uuid.UUID, reason, message string) error {
	return e.withLock(ctx, instanceID, func(inst *domain.ProcessInstance) error {
		if err := guardLifecycle(ctx, inst, domain.StatusCancelled, ""); err != nil {
			return fmt.Errorf("cancel: %w", err)
		}

		_, graph, err := e.loadDefinition(ctx, inst.DefinitionID, inst.DefinitionVersion)
		if err != nil {
			return err
		}

		inst.MarkCancelled()
		if e.timers != nil {
			if err := e.timers.Cancel(ctx, inst.ID, ""); err != nil {
				e.logger.Warn("cancel timers failed", "instance_id", inst.ID, "error", err)
			}
		}

		rs := newRunState(e, inst, graph)
		if reason != "" {
			message = message + ": " + reason
		}
		rs.record(domain.HistoryInstanceCancelled, "", message)
		if err := rs.save(ctx); err != nil {
			return err
		}
		e.metrics.InstanceFinished(string(domain.StatusCancelled))
		return nil
	})
}

// Retry повторяет запуск FAULTED-экземпляра с упавшей activity.
func (e *Engine) Retry(ctx context.Context, instanceID uuid.UUID) error {
	return e.withLock(ctx, instanceID, func(inst *domain.ProcessInstance) error {
		if err := guardLifecycle(ctx, inst, domain.StatusRunning, opRetry); err != nil {
			return fmt.Errorf("retry: %w", err)
		}

		_, graph, err := e.loadDefinition(ctx, inst.DefinitionID, inst.DefinitionVersion)
		if err != nil {
			return err
		}

		inst.ClearFault()
		inst.MarkRunning()

		rs := newRunState(e, inst, graph)
		rs.record(domain.HistoryInstanceRetried, inst.CurrentActivityID,
			fmt.Sprintf("retry attempt %d", inst.FaultCount))
		if err := rs.save(ctx); err != nil {
			return err
		}
		return e.run(ctx, rs)
	})
}

// GetInstance возвращает экземпляр по ID.
func (e *Engine) GetInstance(ctx context.Context, instanceID uuid.UUID) (*domain.ProcessInstance, error) {
	inst, err := e.instances.Get(ctx, instanceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
		}
		return nil, err
	}
	return inst, nil
}

// QueryInstances возвращает страницу экземпляров и общее количество.
func (e *Engine) QueryInstances(ctx context.Context, q store.InstanceQuery) ([]domain.ProcessInstance, int, error) {
	return e.instances.Query(ctx, q)
}

// GetHistory возвращает журнал экземпляра в порядке записи.
func (e *Engine) GetHistory(ctx context.Context, instanceID uuid.UUID) ([]domain.HistoryEntry, error) {
	return e.instances.History(ctx, instanceID)
}

// withLock выполняет fn над экземпляром под lease-блокировкой.
func (e *Engine) withLock(ctx context.Context, instanceID uuid.UUID, fn func(*domain.ProcessInstance) error) error {
	ok, err := e.instances.TryAcquireLock(ctx, instanceID, e.holder, e.lockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceLocked, instanceID)
	}
	defer func() {
		if err := e.instances.ReleaseLock(context.WithoutCancel(ctx), instanceID, e.holder); err != nil {
			e.logger.Warn("release lock failed", "instance_id", instanceID, "error", err)
		}
	}()

	inst, err := e.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	return fn(inst)
}

// loadDefinition загружает и компилирует определение.
func (e *Engine) loadDefinition(ctx context.Context, id string, version int) (*domain.ProcessDefinition, *CompiledGraph, error) {
	def, err := e.definitions.Get(ctx, id, version)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, id)
		}
		return nil, nil, err
	}
	graph, err := Compile(def)
	if err != nil {
		return nil, nil, err
	}
	return def, graph, nil
}

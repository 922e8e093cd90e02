package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dirigent/internal/domain"
	"github.com/shaiso/Dirigent/internal/store"
)

// runState — состояние одного запуска: экземпляр, граф, контекст
// и накопленные записи журнала, персистируемые атомарно со state.
type runState struct {
	e     *Engine
	inst  *domain.ProcessInstance
	graph *CompiledGraph
	cctx  *Context

	pending []domain.HistoryEntry
	steps   int
}

func newRunState(e *Engine, inst *domain.ProcessInstance, graph *CompiledGraph) *runState {
	return &runState{
		e:     e,
		inst:  inst,
		graph: graph,
		cctx:  NewContext(inst),
	}
}

// record добавляет запись журнала в буфер запуска.
func (rs *runState) record(t domain.HistoryType, activityID, message string) {
	rs.pending = append(rs.pending, domain.NewHistoryEntry(rs.inst.ID, t, activityID, message))
}

// recordDetails добавляет запись журнала со структурированными деталями.
func (rs *runState) recordDetails(t domain.HistoryType, activityID, message string, details map[string]any) {
	entry := domain.NewHistoryEntry(rs.inst.ID, t, activityID, message)
	entry.Details = details
	rs.pending = append(rs.pending, entry)
}

// save персистит экземпляр и буфер журнала атомарно.
func (rs *runState) save(ctx context.Context) error {
	err := rs.e.instances.Save(ctx, rs.inst, rs.pending)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: instance %s", ErrConcurrencyConflict, rs.inst.ID)
		}
		return err
	}
	rs.pending = nil
	return nil
}

// setCurrent переводит выполнение на следующую activity.
func (rs *runState) setCurrent(activityID string) {
	rs.inst.CurrentActivityID = activityID
	for _, id := range rs.inst.ActiveActivityIDs {
		if id == activityID {
			return
		}
	}
	rs.inst.ActiveActivityIDs = append(rs.inst.ActiveActivityIDs, activityID)
}

// complete завершает экземпляр успешно.
func (rs *runState) complete(ctx context.Context) error {
	rs.inst.MarkCompleted()
	if rs.inst.Output == nil {
		rs.inst.Output = rs.cctx.LastOutput()
	}
	rs.inst.ActiveActivityIDs = nil
	rs.record(domain.HistoryInstanceCompleted, "", "instance completed")
	if err := rs.save(ctx); err != nil {
		return err
	}
	rs.e.metrics.InstanceFinished(string(domain.StatusCompleted))
	rs.e.logger.Info("instance completed", "instance_id", rs.inst.ID)
	return nil
}

// run — цикл выполнения: пока экземпляр RUNNING и есть текущая activity,
// выполнить её, записать исход и решить следующий шаг.
func (e *Engine) run(ctx context.Context, rs *runState) error {
	inst := rs.inst

	for inst.Status == domain.StatusRunning && inst.CurrentActivityID != "" {
		// Кооперативная отмена в голове цикла
		if ctx.Err() != nil {
			inst.MarkCancelled()
			rs.record(domain.HistoryInstanceCancelled, "", "run cancelled")
			if err := rs.save(context.WithoutCancel(ctx)); err != nil {
				return err
			}
			e.metrics.InstanceFinished(string(domain.StatusCancelled))
			return nil
		}

		// Потолок выполнений — защита от циклических определений
		rs.steps++
		if rs.steps > e.maxActivities {
			return e.fault(ctx, rs, "", &domain.Failure{
				Code:    domain.CodeActivityLimit,
				Message: fmt.Sprintf("activity execution ceiling %d exceeded", e.maxActivities),
			})
		}

		act, ok := rs.graph.Activity(inst.CurrentActivityID)
		if !ok {
			// Нарушение инварианта определения
			return e.fault(ctx, rs, inst.CurrentActivityID, &domain.Failure{
				Code:    domain.CodeActivityError,
				Message: fmt.Sprintf("current activity %q is not in definition", inst.CurrentActivityID),
			})
		}

		rs.record(domain.HistoryActivityStarted, act.ID, string(act.Kind)+" started")

		started := time.Now()
		res := e.executeActivity(ctx, rs, act, rs.cctx)
		e.metrics.ActivityExecuted(string(act.Kind), res.Success)
		e.metrics.ObserveActivityDuration(time.Since(started).Seconds())

		if !res.Success {
			if err := e.handleFailure(ctx, rs, act, res.Failure); err != nil {
				return err
			}
			continue
		}

		// Приостановка: bookmark персистится против текущей activity
		if res.SuspendBookmark != "" {
			if err := e.suspend(ctx, rs, act, res); err != nil {
				return err
			}
			return nil
		}

		// Успешное завершение activity
		inst.CompleteActivity(act.ID)
		if act.Compensable() {
			inst.PushCompensation(act.ID)
		}
		rs.cctx.FoldOutput(res.Output)
		rs.record(domain.HistoryActivityCompleted, act.ID, string(act.Kind)+" completed")

		if act.Kind == domain.KindEnd {
			return rs.complete(ctx)
		}

		// Следующий шаг
		var next string
		switch {
		case res.NextActivityID != "":
			next = res.NextActivityID

		case len(res.ParallelNextIDs) > 0:
			join, err := e.runParallel(ctx, rs, act, res.ParallelNextIDs)
			if err != nil {
				return err
			}
			if inst.Status != domain.StatusRunning {
				// Отмена во время параллельного выполнения
				return nil
			}
			next = join

		default:
			next = rs.graph.ResolveNext(act.ID, rs.cctx.Data())
		}

		if next == "" {
			return rs.complete(ctx)
		}
		rs.setCurrent(next)
		if err := rs.save(ctx); err != nil {
			return err
		}
	}
	return nil
}

// suspend персистит bookmark и переводит экземпляр в SUSPENDED.
func (e *Engine) suspend(ctx context.Context, rs *runState, act domain.Activity, res domain.ActivityResult) error {
	inst := rs.inst

	bm := domain.Bookmark{
		Name:       res.SuspendBookmark,
		ActivityID: act.ID,
		Payload:    res.SuspendPayload,
		CreatedAt:  time.Now(),
	}
	if !inst.AddBookmark(bm) {
		return e.fault(ctx, rs, act.ID, &domain.Failure{
			Code:    domain.CodeActivityError,
			Message: fmt.Sprintf("bookmark %q already exists", bm.Name),
		})
	}

	inst.MarkSuspended()
	rs.recordDetails(domain.HistoryInstanceSuspended, act.ID, "instance suspended",
		map[string]any{"bookmark": bm.Name})

	// Таймеры регистрируются для планировщика
	if act.Kind == domain.KindTimer && e.timers != nil {
		timer := &domain.Timer{
			ID:           uuid.New(),
			InstanceID:   inst.ID,
			BookmarkName: bm.Name,
			DueAt:        time.Now().Add(time.Duration(act.DelaySec) * time.Second),
			CreatedAt:    time.Now(),
		}
		if err := e.timers.Schedule(ctx, timer); err != nil {
			return err
		}
	}

	if err := rs.save(ctx); err != nil {
		return err
	}
	e.logger.Info("instance suspended",
		"instance_id", inst.ID,
		"activity_id", act.ID,
		"bookmark", bm.Name,
	)
	return nil
}

// handleFailure пытается обработать падение activity:
//
//  1. boundary, привязанный к упавшей activity (по коду ошибки)
//  2. глобальный ErrorHandler определения (reroute или компенсация)
//  3. экземпляр переходит в FAULTED
func (e *Engine) handleFailure(ctx context.Context, rs *runState, act domain.Activity, f *domain.Failure) error {
	if f == nil {
		f = &domain.Failure{Code: domain.CodeActivityError, Message: "unknown failure"}
	}
	rs.recordDetails(domain.HistoryActivityFailed, act.ID, f.Message,
		map[string]any{"code": f.Code})
	e.logger.Warn("activity failed",
		"instance_id", rs.inst.ID,
		"activity_id", act.ID,
		"code", f.Code,
		"error", f.Message,
	)

	// Потолок выполнений фатален: обработчики не консультируются
	if f.Code == domain.CodeActivityLimit {
		return e.fault(ctx, rs, act.ID, f)
	}

	for _, b := range rs.graph.Boundaries(act.ID) {
		if b.ErrorCode == "" || b.ErrorCode == f.Code {
			rs.recordDetails(domain.HistoryActivityStarted, b.ID, "error boundary rerouting",
				map[string]any{"to": b.HandlerTo, "code": f.Code})
			rs.setCurrent(b.HandlerTo)
			return rs.save(ctx)
		}
	}

	for _, h := range rs.graph.Definition().ErrorHandlers {
		if h.ErrorCode != "" && h.ErrorCode != f.Code {
			continue
		}
		if h.Compensate {
			return e.compensate(ctx, rs, f)
		}
		if h.HandlerActivityID != "" {
			rs.recordDetails(domain.HistoryActivityStarted, h.HandlerActivityID, "global error handler rerouting",
				map[string]any{"code": f.Code})
			rs.setCurrent(h.HandlerActivityID)
			return rs.save(ctx)
		}
	}

	return e.fault(ctx, rs, act.ID, f)
}

// fault переводит экземпляр в FAULTED с durable-ошибкой.
func (e *Engine) fault(ctx context.Context, rs *runState, activityID string, f *domain.Failure) error {
	rs.inst.MarkFaulted(f.Code + ": " + f.Message)
	rs.recordDetails(domain.HistoryInstanceFaulted, activityID, f.Message,
		map[string]any{"code": f.Code})
	if err := rs.save(ctx); err != nil {
		return err
	}
	e.metrics.InstanceFinished(string(domain.StatusFaulted))
	return nil
}

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Dirigent/internal/domain"
	"github.com/shaiso/Dirigent/internal/handler"
)

// compensate — saga-откат: обход стека компенсации LIFO.
//
// Падение одного шага логируется, и обход продолжается (best-effort).
// Отмена проверяется между шагами и может оставить обход незавершённым.
// Статус: RUNNING → COMPENSATING → COMPENSATED.
func (e *Engine) compensate(ctx context.Context, rs *runState, cause *domain.Failure) error {
	inst := rs.inst

	inst.MarkCompensating()
	details := map[string]any{}
	if cause != nil {
		details["cause"] = cause.Code
	}
	rs.recordDetails(domain.HistoryCompensationStarted, "", "compensation started", details)
	e.metrics.CompensationStarted()
	if err := rs.save(ctx); err != nil {
		return err
	}

	for {
		// Отмена между шагами
		if ctx.Err() != nil {
			inst.MarkCancelled()
			rs.record(domain.HistoryInstanceCancelled, "", "compensation cancelled")
			if err := rs.save(context.WithoutCancel(ctx)); err != nil {
				return err
			}
			e.metrics.InstanceFinished(string(domain.StatusCancelled))
			return nil
		}

		id, ok := inst.PopCompensation()
		if !ok {
			break
		}

		act, found := rs.graph.Activity(id)
		if !found {
			rs.record(domain.HistoryCompensationFailed, id, "activity not in definition")
			continue
		}

		if err := e.compensateActivity(ctx, rs, act); err != nil {
			rs.recordDetails(domain.HistoryCompensationFailed, id, "compensation step failed",
				map[string]any{"error": err.Error()})
			e.logger.Warn("compensation step failed",
				"instance_id", inst.ID,
				"activity_id", id,
				"error", err,
			)
		} else {
			rs.record(domain.HistoryCompensationStep, id, "compensated")
		}

		// Каждый шаг персистится: стек отражает реально выполненный откат
		if err := rs.save(ctx); err != nil {
			return err
		}
	}

	inst.MarkCompensated()
	rs.record(domain.HistoryCompensationCompleted, "", "compensation completed")
	if err := rs.save(ctx); err != nil {
		return err
	}
	e.metrics.InstanceFinished(string(domain.StatusCompensated))
	e.logger.Info("instance compensated", "instance_id", inst.ID)
	return nil
}

// compensateActivity выполняет обратную операцию одной activity.
func (e *Engine) compensateActivity(ctx context.Context, rs *runState, act domain.Activity) error {
	switch act.Kind {
	case domain.KindServiceTask:
		c, err := e.registry.ResolveCompensator(act.CompensationHandler)
		if err != nil {
			return err
		}
		inv := handler.Invocation{
			InstanceID: rs.inst.ID,
			ActivityID: act.ID,
			Input:      handler.ResolveInputs(rs.cctx.Data(), act.Input),
		}
		cctx, cancel := context.WithTimeout(ctx, e.activityTimeout(rs, act))
		defer cancel()
		return c.Compensate(cctx, inv)

	case domain.KindSubProcess:
		// Откат под-процесса — отмена дочернего экземпляра
		raw, ok := rs.cctx.GetVariable("_child:" + act.ID)
		if !ok {
			return fmt.Errorf("child instance id for %q is not recorded", act.ID)
		}
		childID, err := uuid.Parse(fmt.Sprintf("%v", raw))
		if err != nil {
			return fmt.Errorf("invalid child instance id: %w", err)
		}
		err = e.Cancel(ctx, childID, "parent compensation")
		if errors.Is(err, ErrInvalidState) {
			// Дочерний экземпляр уже терминален
			return nil
		}
		return err

	default:
		return nil
	}
}

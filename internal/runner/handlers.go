package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Dirigent/internal/domain"
	"github.com/shaiso/Dirigent/internal/engine"
	"github.com/shaiso/Dirigent/internal/mq"
)

// startInstance запускает экземпляр, толерантно к гонкам между воркерами.
func (r *Runner) startInstance(ctx context.Context, instanceID uuid.UUID) error {
	err := r.engine.Start(ctx, instanceID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrInvalidState):
		// Другой воркер уже запустил экземпляр
		r.logger.Debug("instance already started", "instance_id", instanceID)
		return nil
	case errors.Is(err, engine.ErrInstanceNotFound):
		r.logger.Debug("instance not found", "instance_id", instanceID)
		return nil
	default:
		return fmt.Errorf("start instance %s: %w", instanceID, err)
	}
}

// handleInstancePending обрабатывает событие instance.created
// из очереди instances.pending.
func (r *Runner) handleInstancePending(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.InstanceCreatedPayload](&delivery.Message)
	if err != nil {
		r.logger.Error("failed to parse instance.created payload", "error", err)
		return err
	}

	r.logger.Debug("received instance.created event", "instance_id", payload.InstanceID)

	return r.startInstance(ctx, payload.InstanceID)
}

// handleTimerDue обрабатывает событие timer.due из очереди instances.timers.
func (r *Runner) handleTimerDue(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TimerDuePayload](&delivery.Message)
	if err != nil {
		r.logger.Error("failed to parse timer.due payload", "error", err)
		return err
	}

	r.logger.Debug("received timer.due event",
		"timer_id", payload.TimerID,
		"instance_id", payload.InstanceID,
		"bookmark", payload.BookmarkName,
	)

	err = r.engine.ResumeDueTimer(ctx, domain.Timer{
		ID:           payload.TimerID,
		InstanceID:   payload.InstanceID,
		BookmarkName: payload.BookmarkName,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrBookmarkNotFound),
		errors.Is(err, engine.ErrInvalidState),
		errors.Is(err, engine.ErrInstanceNotFound):
		// Bookmark уже потреблён или экземпляр завершён — таймер
		// устарел, гасим его, чтобы не доставлялся повторно.
		r.logger.Debug("stale timer",
			"timer_id", payload.TimerID,
			"instance_id", payload.InstanceID,
			"reason", err,
		)
		if r.timers != nil {
			if err := r.timers.MarkTriggered(ctx, payload.TimerID); err != nil {
				r.logger.Warn("mark stale timer triggered failed",
					"timer_id", payload.TimerID, "error", err)
			}
		}
		return nil
	default:
		return fmt.Errorf("resume timer %s: %w", payload.TimerID, err)
	}
}

// handleSignalInbox обрабатывает сообщения из очереди signals.inbox:
// signal.raised (широковещательный сигнал) и event.occurred
// (внешнее событие, запускающее подписанные определения).
func (r *Runner) handleSignalInbox(ctx context.Context, delivery *mq.Delivery) error {
	switch delivery.Message.Type {
	case mq.MessageTypeSignalRaised:
		payload, err := mq.ParsePayload[mq.SignalRaisedPayload](&delivery.Message)
		if err != nil {
			r.logger.Error("failed to parse signal.raised payload", "error", err)
			return err
		}

		resumed, err := r.engine.BroadcastSignal(ctx, payload.Signal, payload.Input)
		if err != nil {
			return fmt.Errorf("broadcast signal %q: %w", payload.Signal, err)
		}
		r.logger.Info("signal delivered", "signal", payload.Signal, "resumed", resumed)
		return nil

	case mq.MessageTypeEventOccurred:
		payload, err := mq.ParsePayload[mq.EventOccurredPayload](&delivery.Message)
		if err != nil {
			r.logger.Error("failed to parse event.occurred payload", "error", err)
			return err
		}

		started, err := r.engine.TriggerEvent(ctx, payload.Event, payload.Input)
		if err != nil {
			return fmt.Errorf("trigger event %q: %w", payload.Event, err)
		}
		r.logger.Info("event delivered", "event", payload.Event, "started", len(started))
		return nil

	default:
		// Неизвестный тип — ack, чтобы не зациклить доставку
		r.logger.Warn("unknown message type in signals.inbox",
			"type", delivery.Message.Type,
			"message_id", delivery.Message.ID,
		)
		return nil
	}
}

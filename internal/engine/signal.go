package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/shaiso/Dirigent/internal/domain"
)

// Signal возобновляет один приостановленный экземпляр, ожидающий
// именованный сигнал.
func (e *Engine) Signal(ctx context.Context, instanceID uuid.UUID, signalName string, input map[string]any) error {
	return e.Resume(ctx, instanceID, "signal:"+signalName, input)
}

// BroadcastSignal возобновляет все приостановленные экземпляры,
// ожидающие именованный сигнал. Best-effort: ошибка одного экземпляра
// логируется и не прерывает остальных.
//
// Возвращает количество успешно возобновлённых экземпляров.
func (e *Engine) BroadcastSignal(ctx context.Context, signalName string, input map[string]any) (int, error) {
	bookmark := "signal:" + signalName
	waiting, err := e.instances.GetByBookmarkName(ctx, bookmark)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for i := range waiting {
		if err := e.Resume(ctx, waiting[i].ID, bookmark, input); err != nil {
			e.logger.Warn("broadcast resume failed",
				"instance_id", waiting[i].ID,
				"signal", signalName,
				"error", err,
			)
			continue
		}
		resumed++
	}

	e.logger.Info("signal broadcast",
		"signal", signalName,
		"waiting", len(waiting),
		"resumed", resumed,
	)
	return resumed, nil
}

// TriggerEvent запускает новые экземпляры всех активных опубликованных
// определений, подписанных на событие. Inputs триггера перекрываются
// входом события.
//
// Возвращает ID созданных экземпляров.
func (e *Engine) TriggerEvent(ctx context.Context, eventName string, input map[string]any) ([]uuid.UUID, error) {
	defs, err := e.definitions.ListByTrigger(ctx, domain.TriggerEvent, eventName)
	if err != nil {
		return nil, err
	}

	var started []uuid.UUID
	for i := range defs {
		def := &defs[i]

		merged := make(map[string]any)
		for _, tr := range def.Triggers {
			if tr.Type == domain.TriggerEvent && tr.Value == eventName {
				for k, v := range tr.Inputs {
					merged[k] = v
				}
			}
		}
		for k, v := range input {
			merged[k] = v
		}

		inst, err := e.StartNew(ctx, def.ID, merged, CreateOptions{Version: def.Version})
		if err != nil {
			e.logger.Warn("event-triggered start failed",
				"definition_id", def.ID,
				"event", eventName,
				"error", err,
			)
			continue
		}
		started = append(started, inst.ID)
	}

	e.logger.Info("event triggered",
		"event", eventName,
		"definitions", len(defs),
		"started", len(started),
	)
	return started, nil
}

// ResumeDueTimer возобновляет экземпляр по сработавшему таймеру.
// Используется планировщиком; неуспех помечания таймера не считается
// ошибкой возобновления.
func (e *Engine) ResumeDueTimer(ctx context.Context, t domain.Timer) error {
	if err := e.Resume(ctx, t.InstanceID, t.BookmarkName, nil); err != nil {
		return err
	}
	if e.timers != nil {
		if err := e.timers.MarkTriggered(ctx, t.ID); err != nil {
			e.logger.Warn("mark timer triggered failed", "timer_id", t.ID, "error", err)
		}
	}
	return nil
}

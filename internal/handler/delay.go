package handler

import (
	"context"
	"time"
)

// DelayHandler — обработчик для коротких пауз внутри выполнения.
//
// Ожидает указанное количество секунд, не освобождая воркер. Для
// долгих ожиданий используйте activity вида timer: она приостанавливает
// экземпляр durable-закладкой вместо удержания горутины.
//
// Input:
//   - duration_sec (number): длительность задержки в секундах (default: 1)
type DelayHandler struct{}

// NewDelayHandler создаёт DelayHandler.
func NewDelayHandler() *DelayHandler {
	return &DelayHandler{}
}

// Execute выполняет задержку.
func (h *DelayHandler) Execute(ctx context.Context, inv Invocation) (map[string]any, error) {
	durationSec := 1.0
	if val, ok := inv.Input["duration_sec"]; ok {
		switch v := val.(type) {
		case float64:
			durationSec = v
		case int:
			durationSec = float64(v)
		}
	}

	if durationSec <= 0 {
		durationSec = 1
	}

	duration := time.Duration(durationSec * float64(time.Second))

	// Context-aware ожидание
	select {
	case <-time.After(duration):
		return map[string]any{"delayed_sec": durationSec}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

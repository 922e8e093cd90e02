package handler

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Ошибки реестра и обработчиков.
var (
	// ErrHandlerNotFound — имя не зарегистрировано в реестре.
	ErrHandlerNotFound = errors.New("handler not found in registry")

	// ErrNotCompensable — обработчик зарегистрирован, но не реализует
	// Compensator.
	ErrNotCompensable = errors.New("handler does not support compensation")

	// ErrHTTPRequest — HTTP-запрос завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")

	// ErrScript — ошибка выполнения JS-скрипта.
	ErrScript = errors.New("script execution failed")
)

// Invocation — входные данные вызова обработчика.
type Invocation struct {
	// InstanceID — экземпляр, в рамках которого выполняется вызов.
	InstanceID uuid.UUID

	// ActivityID — activity, породившая вызов.
	ActivityID string

	// Input — входные параметры (уже отрезолвленные через ResolveInputs).
	Input map[string]any
}

// Handler — обработчик activity.
//
// Реализации должны проверять ctx.Done() для graceful shutdown.
type Handler interface {
	// Execute выполняет работу и возвращает выходные данные.
	Execute(ctx context.Context, inv Invocation) (map[string]any, error)
}

// Compensator — обратная операция для saga-компенсации.
//
// Обработчики service_task с компенсацией реализуют оба интерфейса.
type Compensator interface {
	// Compensate откатывает ранее выполненную работу. Input содержит
	// исходные входные данные и output прямой операции.
	Compensate(ctx context.Context, inv Invocation) error
}

// HandlerFunc — адаптер функции к интерфейсу Handler.
type HandlerFunc func(ctx context.Context, inv Invocation) (map[string]any, error)

// Execute вызывает функцию.
func (f HandlerFunc) Execute(ctx context.Context, inv Invocation) (map[string]any, error) {
	return f(ctx, inv)
}

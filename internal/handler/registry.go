package handler

import (
	"fmt"
	"sort"
	"sync"
)

// Registry — реестр обработчиков по имени.
//
// Членство в реестре — это allow-list: движок никогда не вызывает
// обработчик, не зарегистрированный явно. Потокобезопасен.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// DefaultRegistry создаёт реестр со встроенными обработчиками.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("http", NewHTTPHandler())
	r.Register("transform", NewTransformHandler())
	r.Register("delay", NewDelayHandler())
	return r
}

// Register регистрирует обработчик под именем.
// Повторная регистрация перезаписывает предыдущую.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Resolve возвращает обработчик по имени.
// Имя вне allow-list — ErrHandlerNotFound.
func (r *Registry) Resolve(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.handlers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, name)
	}
	return h, nil
}

// ResolveCompensator возвращает обратную операцию по имени.
// Обработчик без Compensator — ErrNotCompensable.
func (r *Registry) ResolveCompensator(name string) (Compensator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.handlers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, name)
	}
	c, ok := h.(Compensator)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotCompensable, name)
	}
	return c, nil
}

// Has проверяет, зарегистрировано ли имя.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[name]
	return exists
}

// Names возвращает отсортированный список зарегистрированных имён.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count возвращает количество зарегистрированных обработчиков.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Unregister удаляет обработчик из реестра.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, name)
}

package domain

import (
	"time"
)

// ProcessDefinition — определение бизнес-процесса.
//
// Definition — это "шаблон" процесса: направленный граф activities,
// соединённых transitions. Одно определение может иметь множество версий;
// каждый экземпляр (ProcessInstance) выполняет конкретную версию.
//
// После публикации (Published=true) определение неизменяемо.
type ProcessDefinition struct {
	// ID — уникальный идентификатор определения (например, "order-fulfillment").
	ID string `json:"id"`

	// Version — номер версии (1, 2, 3, ...).
	Version int `json:"version"`

	// Name — человекочитаемое имя процесса.
	Name string `json:"name,omitempty"`

	// Description — описание назначения процесса.
	Description string `json:"description,omitempty"`

	// StartActivityID — activity, с которой начинается выполнение.
	StartActivityID string `json:"start_activity_id"`

	// Activities — все узлы графа (activityID → Activity).
	Activities map[string]Activity `json:"activities"`

	// Transitions — рёбра графа.
	Transitions []Transition `json:"transitions"`

	// Variables — объявления переменных процесса (значения по умолчанию,
	// обязательность входных параметров).
	Variables map[string]VariableDef `json:"variables,omitempty"`

	// Triggers — внешние триггеры, запускающие новые экземпляры.
	Triggers []Trigger `json:"triggers,omitempty"`

	// ErrorHandlers — глобальные обработчики ошибок процесса.
	// Применяются, когда у упавшей activity нет boundary-обработчика.
	ErrorHandlers []ErrorHandler `json:"error_handlers,omitempty"`

	// DefaultTimeoutSec — таймаут выполнения одной activity по умолчанию.
	DefaultTimeoutSec int `json:"default_timeout_sec,omitempty"`

	// MaxActivityExecutions — потолок количества выполнений activities
	// за один запуск (защита от циклических определений).
	// 0 — использовать значение движка по умолчанию.
	MaxActivityExecutions int `json:"max_activity_executions,omitempty"`

	// Published — опубликована ли версия. Неопубликованные версии —
	// черновики, их можно менять.
	Published bool `json:"published"`

	// IsActive — флаг активности. Неактивные определения не запускаются
	// по триггерам.
	IsActive bool `json:"is_active"`

	// CreatedAt — время создания версии.
	CreatedAt time.Time `json:"created_at"`
}

// VariableDef — объявление переменной процесса.
type VariableDef struct {
	// Type — тип переменной: "string", "number", "boolean", "object", "array".
	Type string `json:"type"`

	// Required — обязателен ли входной параметр при создании экземпляра.
	Required bool `json:"required,omitempty"`

	// Default — значение по умолчанию. Перекрывается входными данными.
	Default any `json:"default,omitempty"`

	// Description — описание переменной.
	Description string `json:"description,omitempty"`
}

// TriggerType — тип триггера определения.
type TriggerType string

const (
	// TriggerEvent — запуск по именованному внешнему событию.
	TriggerEvent TriggerType = "event"

	// TriggerSchedule — запуск по cron-расписанию.
	TriggerSchedule TriggerType = "schedule"
)

// Trigger — внешний триггер, запускающий новые экземпляры определения.
type Trigger struct {
	// Type — тип триггера.
	Type TriggerType `json:"type"`

	// Value — имя события (для event) или cron-выражение (для schedule).
	Value string `json:"value"`

	// Inputs — входные данные, передаваемые создаваемому экземпляру.
	Inputs map[string]any `json:"inputs,omitempty"`
}

// ErrorHandler — глобальный обработчик ошибок процесса.
//
// Порядок применения после падения activity:
//  1. boundary-activity (KindErrorBoundary), привязанная к упавшей activity
//  2. первый подходящий глобальный ErrorHandler (по коду ошибки)
//  3. экземпляр переходит в Faulted
type ErrorHandler struct {
	// ErrorCode — код ошибки, который обрабатывает handler.
	// Пустая строка — обрабатывает любой код.
	ErrorCode string `json:"error_code,omitempty"`

	// HandlerActivityID — activity, на которую перенаправляется выполнение.
	// Пусто, если Compensate=true.
	HandlerActivityID string `json:"handler_activity_id,omitempty"`

	// Compensate — вместо перенаправления запустить saga-компенсацию.
	Compensate bool `json:"compensate,omitempty"`
}

// Transition — направленное ребро между activities.
type Transition struct {
	// ID — идентификатор перехода (опционален, для диагностики).
	ID string `json:"id,omitempty"`

	// From — activity-источник.
	From string `json:"from"`

	// To — activity-приёмник.
	To string `json:"to"`

	// Condition — условие перехода (см. engine.Evaluate).
	// Пустая строка — переход безусловный.
	Condition string `json:"condition,omitempty"`

	// Default — переход по умолчанию, когда ни одно условие не сработало.
	Default bool `json:"default,omitempty"`
}

// RetryPolicy — политика повторных попыток для activity.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Backoff — стратегия задержки: "fixed", "exponential".
	Backoff string `json:"backoff,omitempty"`

	// InitialDelayMs — начальная задержка в миллисекундах.
	InitialDelayMs int `json:"initial_delay_ms,omitempty"`

	// MaxDelayMs — максимальная задержка в миллисекундах.
	MaxDelayMs int `json:"max_delay_ms,omitempty"`
}

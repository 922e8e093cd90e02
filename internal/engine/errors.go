package engine

import (
	"errors"
	"fmt"
)

// Ошибки движка.
var (
	// ErrDefinitionNotFound — определение не найдено.
	ErrDefinitionNotFound = errors.New("definition not found")

	// ErrInstanceNotFound — экземпляр не найден.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrActivityNotFound — activity не найдена в определении.
	ErrActivityNotFound = errors.New("activity not found in definition")

	// ErrBookmarkNotFound — bookmark не найден у экземпляра.
	ErrBookmarkNotFound = errors.New("bookmark not found")

	// ErrInvalidState — операция недопустима в текущем статусе экземпляра.
	ErrInvalidState = errors.New("operation invalid for current instance status")

	// ErrInstanceLocked — экземпляр обрабатывается другим воркером.
	ErrInstanceLocked = errors.New("instance is locked by another worker")

	// ErrConcurrencyConflict — конкурентная модификация экземпляра.
	ErrConcurrencyConflict = errors.New("concurrent instance modification")
)

// Ошибки валидации определений.
var (
	// ErrNoStartActivity — не задана стартовая activity.
	ErrNoStartActivity = errors.New("definition has no start activity")

	// ErrUnknownKind — неизвестный тип activity.
	ErrUnknownKind = errors.New("unknown activity kind")

	// ErrDanglingTransition — переход ссылается на несуществующую activity.
	ErrDanglingTransition = errors.New("transition references unknown activity")

	// ErrUnpairedSplit — parallel split без соответствующего join.
	ErrUnpairedSplit = errors.New("parallel split has no matching join")

	// ErrDanglingBoundary — error boundary привязан к несуществующей activity.
	ErrDanglingBoundary = errors.New("error boundary attached to unknown activity")
)

// ValidationError — невалидный вход или определение при создании.
type ValidationError struct {
	// Field — поле или activity, вызвавшее ошибку.
	Field string

	// Message — описание ошибки.
	Message string

	// Err — базовая ошибка.
	Err error
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return "validation: " + e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{Field: field, Message: message, Err: err}
}

package statemachine

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки движка конечных автоматов.
var (
	// ErrStateNotFound — состояние не определено в автомате.
	ErrStateNotFound = errors.New("state not found")

	// ErrNoInitialState — у автомата не задано начальное состояние.
	ErrNoInitialState = errors.New("initial state is not defined")

	// ErrPermissionDenied — у вызывающего нет требуемого разрешения.
	ErrPermissionDenied = errors.New("permission denied")
)

// InvalidTransitionError — переход (from, to) не определён.
//
// Valid содержит допустимые целевые состояния из from.
type InvalidTransitionError struct {
	From  string
	To    string
	Valid []string
}

func (e *InvalidTransitionError) Error() string {
	if len(e.Valid) == 0 {
		return fmt.Sprintf("invalid transition %s -> %s: no transitions from %s", e.From, e.To, e.From)
	}
	return fmt.Sprintf("invalid transition %s -> %s: valid targets are %s", e.From, e.To, strings.Join(e.Valid, ", "))
}

// GuardError — guard перехода не пропустил.
//
// Идентифицирует упавший guard и причину.
type GuardError struct {
	Guard string
	From  string
	To    string
	Err   error
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("guard %q rejected transition %s -> %s: %v", e.Guard, e.From, e.To, e.Err)
}

func (e *GuardError) Unwrap() error { return e.Err }

// Фазы выполнения действий перехода.
const (
	PhaseExit       = "exit"
	PhaseTransition = "transition"
	PhaseEntry      = "entry"
)

// ActionError — действие перехода завершилось ошибкой.
type ActionError struct {
	Action string
	Phase  string
	From   string
	To     string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s action %q failed on transition %s -> %s: %v", e.Phase, e.Action, e.From, e.To, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

package engine

import (
	"context"
	"fmt"

	"github.com/shaiso/Dirigent/internal/domain"
	"github.com/shaiso/Dirigent/internal/statemachine"
)

// lifecycle — автомат статусов экземпляра процесса.
//
// Операции движка (Start, Resume, Retry, Cancel) проверяют допустимость
// смены статуса через него: недопустимый переход — ErrInvalidState.
var lifecycle = mustLifecycle()

func mustLifecycle() *statemachine.Machine[*domain.ProcessInstance] {
	state := func(s domain.InstanceStatus) statemachine.State[*domain.ProcessInstance] {
		return statemachine.State[*domain.ProcessInstance]{
			Name:  string(s),
			Final: s.IsTerminal(),
		}
	}
	// Переходы в RUNNING привязаны к операции движка через Permission:
	// Start не принимает SUSPENDED, Resume не принимает FAULTED и т.д.
	tr := func(from, to domain.InstanceStatus, op string) statemachine.Transition[*domain.ProcessInstance] {
		return statemachine.Transition[*domain.ProcessInstance]{
			From:       string(from),
			To:         string(to),
			Permission: op,
		}
	}

	m, err := statemachine.New(statemachine.Definition[*domain.ProcessInstance]{
		Name:    "instance-lifecycle",
		Initial: string(domain.StatusPending),
		States: map[string]statemachine.State[*domain.ProcessInstance]{
			string(domain.StatusPending):      state(domain.StatusPending),
			string(domain.StatusRunning):      state(domain.StatusRunning),
			string(domain.StatusSuspended):    state(domain.StatusSuspended),
			string(domain.StatusCompleted):    state(domain.StatusCompleted),
			string(domain.StatusFaulted):      state(domain.StatusFaulted),
			string(domain.StatusCancelled):    state(domain.StatusCancelled),
			string(domain.StatusCompensating): state(domain.StatusCompensating),
			string(domain.StatusCompensated):  state(domain.StatusCompensated),
		},
		Transitions: []statemachine.Transition[*domain.ProcessInstance]{
			tr(domain.StatusPending, domain.StatusRunning, opStart),

			tr(domain.StatusRunning, domain.StatusSuspended, ""),
			tr(domain.StatusRunning, domain.StatusCompleted, ""),
			tr(domain.StatusRunning, domain.StatusFaulted, ""),
			tr(domain.StatusRunning, domain.StatusCompensating, ""),

			tr(domain.StatusSuspended, domain.StatusRunning, opResume),
			tr(domain.StatusFaulted, domain.StatusRunning, opRetry),

			tr(domain.StatusCompensating, domain.StatusCompensated, ""),
			tr(domain.StatusCompensating, domain.StatusFaulted, ""),

			// Отмена из любого нетерминального статуса
			tr(domain.StatusPending, domain.StatusCancelled, ""),
			tr(domain.StatusRunning, domain.StatusCancelled, ""),
			tr(domain.StatusSuspended, domain.StatusCancelled, ""),
			tr(domain.StatusFaulted, domain.StatusCancelled, ""),
			tr(domain.StatusCompensating, domain.StatusCancelled, ""),
		},
	})
	if err != nil {
		panic(fmt.Sprintf("invalid instance lifecycle definition: %v", err))
	}
	return m
}

// Операции движка, управляющие жизненным циклом.
const (
	opStart  = "start"
	opResume = "resume"
	opRetry  = "retry"
)

// guardLifecycle проверяет, что операция op может перевести экземпляр
// в статус to из текущего. Недопустимый переход — ErrInvalidState.
func guardLifecycle(ctx context.Context, inst *domain.ProcessInstance, to domain.InstanceStatus, op string) error {
	err := lifecycle.Transition(ctx, inst, string(inst.Status), string(to), statemachine.Options{
		Permissions: []string{op},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return nil
}

package domain

// InstanceStatus — статус выполнения экземпляра процесса.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	                  ↘ SUSPENDED → RUNNING (resume)
//	                  ↘ FAULTED   → RUNNING (retry)
//	                  ↘ COMPENSATING → COMPENSATED
//	          (или) → CANCELLED (из любого нетерминального)
//
// COMPLETED, CANCELLED и COMPENSATED — терминальные.
type InstanceStatus string

const (
	// StatusPending — экземпляр создан, но ещё не запущен.
	StatusPending InstanceStatus = "PENDING"

	// StatusRunning — экземпляр выполняется.
	StatusRunning InstanceStatus = "RUNNING"

	// StatusSuspended — экземпляр ждёт внешнего входа (bookmark).
	StatusSuspended InstanceStatus = "SUSPENDED"

	// StatusCompleted — экземпляр успешно завершён.
	StatusCompleted InstanceStatus = "COMPLETED"

	// StatusFaulted — экземпляр упал; ошибка записана, возможен Retry.
	StatusFaulted InstanceStatus = "FAULTED"

	// StatusCancelled — экземпляр отменён.
	StatusCancelled InstanceStatus = "CANCELLED"

	// StatusCompensating — выполняется saga-откат завершённых activities.
	StatusCompensating InstanceStatus = "COMPENSATING"

	// StatusCompensated — откат завершён.
	StatusCompensated InstanceStatus = "COMPENSATED"
)

// IsTerminal возвращает true, если статус финальный.
// Faulted не терминален: экземпляр остаётся доступным для Retry.
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusCompensated:
		return true
	default:
		return false
	}
}

// BranchStatus — статус параллельной ветки.
type BranchStatus string

const (
	// BranchRunning — ветка выполняется.
	BranchRunning BranchStatus = "RUNNING"

	// BranchCompleted — ветка дошла до join.
	BranchCompleted BranchStatus = "COMPLETED"

	// BranchFaulted — ветка упала. Падение записывается на ветке,
	// но само по себе не роняет родительский экземпляр.
	BranchFaulted BranchStatus = "FAULTED"
)

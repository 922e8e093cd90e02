package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProcessInstance — экземпляр выполнения процесса.
//
// Экземпляр создаётся когда:
//   - Пользователь запускает определение вручную (API/CLI)
//   - Внешнее событие срабатывает на Trigger определения
//   - Родительский процесс запускает под-процесс (KindSubProcess)
//
// Во время запуска экземпляром монопольно владеет движок (lease lock в
// InstanceStore); персистится на границах запуска и в точках suspend.
type ProcessInstance struct {
	// ID — уникальный идентификатор экземпляра.
	ID uuid.UUID `json:"id"`

	// DefinitionID и DefinitionVersion — выполняемая версия определения.
	DefinitionID      string `json:"definition_id"`
	DefinitionVersion int    `json:"definition_version"`

	// TenantID — арендатор (для Query-фильтрации).
	TenantID string `json:"tenant_id,omitempty"`

	// CorrelationID — внешний ключ корреляции / идемпотентности.
	CorrelationID string `json:"correlation_id,omitempty"`

	// ParentInstanceID — родительский экземпляр для под-процессов.
	ParentInstanceID *uuid.UUID `json:"parent_instance_id,omitempty"`

	// Status — текущий статус.
	Status InstanceStatus `json:"status"`

	// Input — входные данные, переданные при создании.
	Input map[string]any `json:"input,omitempty"`

	// Variables — переменные процесса (defaults определения + input поверх).
	Variables map[string]any `json:"variables,omitempty"`

	// Output — результат процесса (накапливается End/Task activities).
	Output map[string]any `json:"output,omitempty"`

	// CurrentActivityID — текущая activity. Пока экземпляр Running,
	// обязана существовать в определении.
	CurrentActivityID string `json:"current_activity_id,omitempty"`

	// ActiveActivityIDs — activities в работе (в т.ч. параллельные ветки).
	ActiveActivityIDs []string `json:"active_activity_ids,omitempty"`

	// CompletedActivityIDs — завершённые activities в порядке завершения.
	CompletedActivityIDs []string `json:"completed_activity_ids,omitempty"`

	// Bookmarks — точки возобновления. Имя уникально в рамках экземпляра;
	// bookmark потребляется ровно один раз.
	Bookmarks []Bookmark `json:"bookmarks,omitempty"`

	// CompensationStack — LIFO-стек для saga-отката. Содержит только
	// завершённые компенсируемые activities.
	CompensationStack []string `json:"compensation_stack,omitempty"`

	// Branches — параллельные ветки (branchID → ParallelBranch).
	Branches map[string]ParallelBranch `json:"branches,omitempty"`

	// FaultCount — количество падений (инкрементируется при Retry).
	FaultCount int `json:"fault_count"`

	// LastError — последняя записанная ошибка.
	LastError string `json:"last_error,omitempty"`

	// Revision — счётчик версий записи для обнаружения конкурентных
	// модификаций в InstanceStore.
	Revision int64 `json:"revision"`

	// StartedAt — время перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время достижения терминального статуса.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания экземпляра.
	CreatedAt time.Time `json:"created_at"`
}

// Bookmark — долговечная точка возобновления.
//
// Создаётся когда resumable activity приостанавливает выполнение;
// удаляется ровно один раз при Resume.
type Bookmark struct {
	// Name — имя bookmark, уникальное в рамках экземпляра.
	// Конвенции: "user:<activityID>", "timer:<activityID>", "signal:<имя>".
	Name string `json:"name"`

	// ActivityID — activity-владелец.
	ActivityID string `json:"activity_id"`

	// Payload — данные, сохранённые при suspend.
	Payload map[string]any `json:"payload,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// ParallelBranch — одна ветка параллельного fan-out.
type ParallelBranch struct {
	// ID — идентификатор ветки.
	ID string `json:"id"`

	// SplitActivityID — parallel gateway, породивший ветку.
	SplitActivityID string `json:"split_activity_id"`

	// ActivityIDs — activities, выполненные в ветке.
	ActivityIDs []string `json:"activity_ids,omitempty"`

	// Status — статус ветки.
	Status BranchStatus `json:"status"`

	// Error — ошибка ветки при Status=FAULTED.
	Error string `json:"error,omitempty"`
}

// IsFinished возвращает true для терминального статуса.
func (p *ProcessInstance) IsFinished() bool {
	return p.Status.IsTerminal()
}

// MarkRunning переводит экземпляр в RUNNING.
func (p *ProcessInstance) MarkRunning() {
	if p.StartedAt == nil {
		now := time.Now()
		p.StartedAt = &now
	}
	p.Status = StatusRunning
}

// MarkCompleted переводит экземпляр в COMPLETED.
func (p *ProcessInstance) MarkCompleted() {
	now := time.Now()
	p.Status = StatusCompleted
	p.FinishedAt = &now
	p.CurrentActivityID = ""
}

// MarkSuspended переводит экземпляр в SUSPENDED.
func (p *ProcessInstance) MarkSuspended() {
	p.Status = StatusSuspended
}

// MarkFaulted переводит экземпляр в FAULTED с ошибкой.
func (p *ProcessInstance) MarkFaulted(errMsg string) {
	p.Status = StatusFaulted
	p.LastError = errMsg
}

// MarkCancelled переводит экземпляр в CANCELLED.
func (p *ProcessInstance) MarkCancelled() {
	now := time.Now()
	p.Status = StatusCancelled
	p.FinishedAt = &now
}

// MarkCompensating переводит экземпляр в COMPENSATING.
func (p *ProcessInstance) MarkCompensating() {
	p.Status = StatusCompensating
}

// MarkCompensated переводит экземпляр в COMPENSATED.
func (p *ProcessInstance) MarkCompensated() {
	now := time.Now()
	p.Status = StatusCompensated
	p.FinishedAt = &now
	p.CurrentActivityID = ""
}

// ClearFault очищает ошибку перед Retry и инкрементирует FaultCount.
func (p *ProcessInstance) ClearFault() {
	p.LastError = ""
	p.FaultCount++
}

// AddBookmark добавляет bookmark. Возвращает false, если имя уже занято.
func (p *ProcessInstance) AddBookmark(b Bookmark) bool {
	for i := range p.Bookmarks {
		if p.Bookmarks[i].Name == b.Name {
			return false
		}
	}
	p.Bookmarks = append(p.Bookmarks, b)
	return true
}

// FindBookmark возвращает bookmark по имени без удаления.
func (p *ProcessInstance) FindBookmark(name string) (Bookmark, bool) {
	for i := range p.Bookmarks {
		if p.Bookmarks[i].Name == name {
			return p.Bookmarks[i], true
		}
	}
	return Bookmark{}, false
}

// TakeBookmark удаляет и возвращает bookmark по имени.
// Потребление ровно один раз: повторный вызов вернёт false.
func (p *ProcessInstance) TakeBookmark(name string) (Bookmark, bool) {
	for i := range p.Bookmarks {
		if p.Bookmarks[i].Name == name {
			b := p.Bookmarks[i]
			p.Bookmarks = append(p.Bookmarks[:i], p.Bookmarks[i+1:]...)
			return b, true
		}
	}
	return Bookmark{}, false
}

// CompleteActivity записывает завершение activity: добавляет её в
// CompletedActivityIDs и убирает из ActiveActivityIDs.
func (p *ProcessInstance) CompleteActivity(activityID string) {
	p.CompletedActivityIDs = append(p.CompletedActivityIDs, activityID)
	for i, id := range p.ActiveActivityIDs {
		if id == activityID {
			p.ActiveActivityIDs = append(p.ActiveActivityIDs[:i], p.ActiveActivityIDs[i+1:]...)
			break
		}
	}
}

// PushCompensation кладёт activity на стек компенсации.
func (p *ProcessInstance) PushCompensation(activityID string) {
	p.CompensationStack = append(p.CompensationStack, activityID)
}

// PopCompensation снимает верхний элемент стека компенсации.
func (p *ProcessInstance) PopCompensation() (string, bool) {
	if len(p.CompensationStack) == 0 {
		return "", false
	}
	top := p.CompensationStack[len(p.CompensationStack)-1]
	p.CompensationStack = p.CompensationStack[:len(p.CompensationStack)-1]
	return top, true
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если экземпляр ещё не завершён.
func (p *ProcessInstance) Duration() time.Duration {
	if p.StartedAt == nil || p.FinishedAt == nil {
		return 0
	}
	return p.FinishedAt.Sub(*p.StartedAt)
}

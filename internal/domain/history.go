package domain

import (
	"time"

	"github.com/google/uuid"
)

// HistoryType — тип записи журнала экземпляра.
type HistoryType string

const (
	HistoryInstanceCreated   HistoryType = "instance.created"
	HistoryInstanceStarted   HistoryType = "instance.started"
	HistoryInstanceCompleted HistoryType = "instance.completed"
	HistoryInstanceSuspended HistoryType = "instance.suspended"
	HistoryInstanceResumed   HistoryType = "instance.resumed"
	HistoryInstanceFaulted   HistoryType = "instance.faulted"
	HistoryInstanceCancelled HistoryType = "instance.cancelled"
	HistoryInstanceRetried   HistoryType = "instance.retried"

	HistoryActivityStarted   HistoryType = "activity.started"
	HistoryActivityCompleted HistoryType = "activity.completed"
	HistoryActivityFailed    HistoryType = "activity.failed"

	HistoryBranchCompleted HistoryType = "branch.completed"
	HistoryBranchFaulted   HistoryType = "branch.faulted"

	HistoryCompensationStarted   HistoryType = "compensation.started"
	HistoryCompensationStep      HistoryType = "compensation.step"
	HistoryCompensationFailed    HistoryType = "compensation.step_failed"
	HistoryCompensationCompleted HistoryType = "compensation.completed"
)

// HistoryEntry — запись append-only журнала экземпляра.
//
// Журнал персистится атомарно вместе с состоянием экземпляра
// (InstanceStore.Save); читатели видят только закоммиченные снимки.
type HistoryEntry struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// InstanceID — экземпляр, к которому относится запись.
	InstanceID uuid.UUID `json:"instance_id"`

	// Type — тип записи.
	Type HistoryType `json:"type"`

	// ActivityID — activity, к которой относится запись (если применимо).
	ActivityID string `json:"activity_id,omitempty"`

	// Message — человекочитаемое описание.
	Message string `json:"message,omitempty"`

	// Details — структурированные детали (ошибка, bookmark, ветка и т.д.).
	Details map[string]any `json:"details,omitempty"`

	// At — время события.
	At time.Time `json:"at"`
}

// NewHistoryEntry создаёт запись журнала с текущим временем.
func NewHistoryEntry(instanceID uuid.UUID, t HistoryType, activityID, message string) HistoryEntry {
	return HistoryEntry{
		ID:         uuid.New(),
		InstanceID: instanceID,
		Type:       t,
		ActivityID: activityID,
		Message:    message,
		At:         time.Now(),
	}
}

package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dirigent/internal/domain"
)

// Definition DTOs

// DefinitionResponse — ответ с определением процесса.
type DefinitionResponse struct {
	ID          string    `json:"id"`
	Version     int       `json:"version"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Published   bool      `json:"published"`
	IsActive    bool      `json:"is_active"`
	Activities  int       `json:"activities"`
	CreatedAt   time.Time `json:"created_at"`
}

// DefinitionFromDomain конвертирует domain.ProcessDefinition в DefinitionResponse.
func DefinitionFromDomain(d *domain.ProcessDefinition) DefinitionResponse {
	return DefinitionResponse{
		ID:          d.ID,
		Version:     d.Version,
		Name:        d.Name,
		Description: d.Description,
		Published:   d.Published,
		IsActive:    d.IsActive,
		Activities:  len(d.Activities),
		CreatedAt:   d.CreatedAt,
	}
}

// Instance DTOs

// CreateInstanceRequest — запрос на создание экземпляра.
type CreateInstanceRequest struct {
	Input         map[string]any `json:"input,omitempty"`
	Version       int            `json:"version,omitempty"`
	TenantID      string         `json:"tenant_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`

	// Start — запустить экземпляр сразу после создания.
	Start bool `json:"start,omitempty"`
}

// ResumeRequest — запрос на возобновление по bookmark.
type ResumeRequest struct {
	Bookmark string         `json:"bookmark"`
	Input    map[string]any `json:"input,omitempty"`
}

// SignalRequest — запрос с сигналом или событием.
type SignalRequest struct {
	Input map[string]any `json:"input,omitempty"`
}

// CancelRequest — запрос на отмену экземпляра.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// InstanceResponse — ответ с экземпляром процесса.
type InstanceResponse struct {
	ID                   uuid.UUID        `json:"id"`
	DefinitionID         string           `json:"definition_id"`
	DefinitionVersion    int              `json:"definition_version"`
	TenantID             string           `json:"tenant_id,omitempty"`
	CorrelationID        string           `json:"correlation_id,omitempty"`
	ParentInstanceID     *uuid.UUID       `json:"parent_instance_id,omitempty"`
	Status               string           `json:"status"`
	CurrentActivityID    string           `json:"current_activity_id,omitempty"`
	ActiveActivityIDs    []string         `json:"active_activity_ids,omitempty"`
	CompletedActivityIDs []string         `json:"completed_activity_ids,omitempty"`
	Bookmarks            []string         `json:"bookmarks,omitempty"`
	Variables            map[string]any   `json:"variables,omitempty"`
	Output               map[string]any   `json:"output,omitempty"`
	LastError            string           `json:"last_error,omitempty"`
	FaultCount           int              `json:"fault_count,omitempty"`
	StartedAt            *time.Time       `json:"started_at,omitempty"`
	FinishedAt           *time.Time       `json:"finished_at,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
}

// InstanceFromDomain конвертирует domain.ProcessInstance в InstanceResponse.
func InstanceFromDomain(p *domain.ProcessInstance) InstanceResponse {
	var bookmarks []string
	for i := range p.Bookmarks {
		bookmarks = append(bookmarks, p.Bookmarks[i].Name)
	}

	return InstanceResponse{
		ID:                   p.ID,
		DefinitionID:         p.DefinitionID,
		DefinitionVersion:    p.DefinitionVersion,
		TenantID:             p.TenantID,
		CorrelationID:        p.CorrelationID,
		ParentInstanceID:     p.ParentInstanceID,
		Status:               string(p.Status),
		CurrentActivityID:    p.CurrentActivityID,
		ActiveActivityIDs:    p.ActiveActivityIDs,
		CompletedActivityIDs: p.CompletedActivityIDs,
		Bookmarks:            bookmarks,
		Variables:            p.Variables,
		Output:               p.Output,
		LastError:            p.LastError,
		FaultCount:           p.FaultCount,
		StartedAt:            p.StartedAt,
		FinishedAt:           p.FinishedAt,
		CreatedAt:            p.CreatedAt,
	}
}

// History DTOs

// HistoryEntryResponse — запись журнала экземпляра.
type HistoryEntryResponse struct {
	ID         uuid.UUID      `json:"id"`
	Type       string         `json:"type"`
	ActivityID string         `json:"activity_id,omitempty"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	At         time.Time      `json:"at"`
}

// HistoryFromDomain конвертирует domain.HistoryEntry в HistoryEntryResponse.
func HistoryFromDomain(e domain.HistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse{
		ID:         e.ID,
		Type:       string(e.Type),
		ActivityID: e.ActivityID,
		Message:    e.Message,
		Details:    e.Details,
		At:         e.At,
	}
}

// Signal DTOs

// BroadcastResponse — результат широковещательного сигнала.
type BroadcastResponse struct {
	Signal  string `json:"signal"`
	Resumed int    `json:"resumed"`
}

// TriggerResponse — результат внешнего события.
type TriggerResponse struct {
	Event   string      `json:"event"`
	Started []uuid.UUID `json:"started"`
}

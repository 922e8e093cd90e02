package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/Dirigent/internal/domain"
	"github.com/shaiso/Dirigent/internal/engine"
	"github.com/shaiso/Dirigent/internal/store"
)

// CreateInstance создаёт экземпляр определения (и опционально запускает).
// POST /api/v1/definitions/{id}/instances
func (h *Handler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	definitionID := r.PathValue("id")

	var req CreateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	opts := engine.CreateOptions{
		Version:       req.Version,
		TenantID:      req.TenantID,
		CorrelationID: req.CorrelationID,
	}

	var inst *domain.ProcessInstance
	var err error
	if req.Start {
		inst, err = h.engine.StartNew(r.Context(), definitionID, req.Input, opts)
	} else {
		inst, err = h.engine.CreateInstance(r.Context(), definitionID, req.Input, opts)
	}
	if HandleEngineError(w, h.logger, err, "definition not found") {
		return
	}

	// Созданный, но не запущенный экземпляр подбирает консьюмер движка
	if h.publisher != nil && inst.Status == domain.StatusPending && !req.Start {
		if err := h.publisher.PublishInstanceCreated(r.Context(), inst.ID); err != nil {
			h.logger.Warn("failed to publish instance.created", "instance_id", inst.ID, "error", err)
		}
	}

	Created(w, InstanceFromDomain(inst))
}

// ListInstances возвращает страницу экземпляров с фильтрацией.
// GET /api/v1/instances?definition_id=...&status=...&tenant_id=...&correlation_id=...&limit=...&offset=...
func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	q := store.InstanceQuery{
		DefinitionID:  r.URL.Query().Get("definition_id"),
		TenantID:      r.URL.Query().Get("tenant_id"),
		CorrelationID: r.URL.Query().Get("correlation_id"),
		Limit:         parseIntParam(r, "limit", 50),
		Offset:        parseIntParam(r, "offset", 0),
	}
	for _, s := range r.URL.Query()["status"] {
		q.Statuses = append(q.Statuses, domain.InstanceStatus(s))
	}

	instances, total, err := h.engine.QueryInstances(r.Context(), q)
	if HandleEngineError(w, h.logger, err, "") {
		return
	}

	result := make([]InstanceResponse, len(instances))
	for i := range instances {
		result[i] = InstanceFromDomain(&instances[i])
	}
	List(w, result, total)
}

// GetInstance возвращает экземпляр по ID.
// GET /api/v1/instances/{id}
func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	inst, err := h.engine.GetInstance(r.Context(), id)
	if HandleEngineError(w, h.logger, err, "instance not found") {
		return
	}
	Success(w, InstanceFromDomain(inst))
}

// GetInstanceHistory возвращает журнал экземпляра.
// GET /api/v1/instances/{id}/history
func (h *Handler) GetInstanceHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	if _, err := h.engine.GetInstance(r.Context(), id); HandleEngineError(w, h.logger, err, "instance not found") {
		return
	}

	history, err := h.engine.GetHistory(r.Context(), id)
	if HandleEngineError(w, h.logger, err, "") {
		return
	}

	result := make([]HistoryEntryResponse, len(history))
	for i, e := range history {
		result[i] = HistoryFromDomain(e)
	}
	List(w, result, len(result))
}

// StartInstance запускает PENDING-экземпляр.
// POST /api/v1/instances/{id}/start
func (h *Handler) StartInstance(w http.ResponseWriter, r *http.Request) {
	h.instanceAction(w, r, func(id uuid.UUID) error {
		return h.engine.Start(r.Context(), id)
	})
}

// ResumeInstance возобновляет приостановленный экземпляр по bookmark.
// POST /api/v1/instances/{id}/resume
func (h *Handler) ResumeInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	var req ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Bookmark == "" {
		BadRequest(w, "bookmark is required")
		return
	}

	err := h.engine.Resume(r.Context(), id, req.Bookmark, req.Input)
	if HandleEngineError(w, h.logger, err, "bookmark not found") {
		return
	}
	h.respondWithInstance(w, r, id)
}

// CancelInstance отменяет экземпляр.
// POST /api/v1/instances/{id}/cancel
func (h *Handler) CancelInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	var req CancelRequest
	// Тело опционально
	_ = json.NewDecoder(r.Body).Decode(&req)

	err := h.engine.Cancel(r.Context(), id, req.Reason)
	if HandleEngineError(w, h.logger, err, "instance not found") {
		return
	}
	h.respondWithInstance(w, r, id)
}

// TerminateInstance принудительно завершает экземпляр.
// POST /api/v1/instances/{id}/terminate
func (h *Handler) TerminateInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	var req CancelRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	err := h.engine.Terminate(r.Context(), id, req.Reason)
	if HandleEngineError(w, h.logger, err, "instance not found") {
		return
	}
	h.respondWithInstance(w, r, id)
}

// RetryInstance повторяет запуск FAULTED-экземпляра с упавшей activity.
// POST /api/v1/instances/{id}/retry
func (h *Handler) RetryInstance(w http.ResponseWriter, r *http.Request) {
	h.instanceAction(w, r, func(id uuid.UUID) error {
		return h.engine.Retry(r.Context(), id)
	})
}

// SignalInstance доставляет сигнал одному экземпляру.
// POST /api/v1/instances/{id}/signal?name=...
func (h *Handler) SignalInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		BadRequest(w, "signal name is required")
		return
	}

	var req SignalRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	err := h.engine.Signal(r.Context(), id, name, req.Input)
	if HandleEngineError(w, h.logger, err, "instance is not waiting for this signal") {
		return
	}
	h.respondWithInstance(w, r, id)
}

// --- Helpers ---

func (h *Handler) instanceAction(w http.ResponseWriter, r *http.Request, action func(uuid.UUID) error) {
	id, ok := parseInstanceID(w, r)
	if !ok {
		return
	}
	if HandleEngineError(w, h.logger, action(id), "instance not found") {
		return
	}
	h.respondWithInstance(w, r, id)
}

func (h *Handler) respondWithInstance(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	inst, err := h.engine.GetInstance(r.Context(), id)
	if HandleEngineError(w, h.logger, err, "instance not found") {
		return
	}
	Success(w, InstanceFromDomain(inst))
}

func parseInstanceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid instance id")
		return uuid.Nil, false
	}
	return id, true
}

// parseIntParam парсит числовой query-параметр с дефолтным значением.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}

package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shaiso/Dirigent/internal/engine"
	"github.com/shaiso/Dirigent/internal/store"
)

// CreateDefinition сохраняет версию определения процесса.
// Тело запроса — JSON определения (см. engine.ParseDefinition).
// POST /api/v1/definitions
func (h *Handler) CreateDefinition(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		BadRequest(w, "failed to read request body")
		return
	}

	def, err := engine.ParseDefinition(body)
	if HandleEngineError(w, h.logger, err, "") {
		return
	}
	if def.Version <= 0 {
		def.Version = 1
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now()
	}

	if err := h.definitions.Save(r.Context(), def); HandleEngineError(w, h.logger, err, "") {
		return
	}

	h.logger.Info("definition saved",
		"definition_id", def.ID,
		"version", def.Version,
	)
	Created(w, DefinitionFromDomain(def))
}

// GetDefinition возвращает последнюю версию определения.
// GET /api/v1/definitions/{id}
func (h *Handler) GetDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := h.definitions.Get(r.Context(), r.PathValue("id"), store.LatestVersion)
	if HandleEngineError(w, h.logger, err, "definition not found") {
		return
	}
	Success(w, def)
}

// GetDefinitionVersion возвращает конкретную версию определения.
// GET /api/v1/definitions/{id}/versions/{version}
func (h *Handler) GetDefinitionVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := parseVersion(w, r)
	if !ok {
		return
	}

	def, err := h.definitions.Get(r.Context(), r.PathValue("id"), version)
	if HandleEngineError(w, h.logger, err, "definition version not found") {
		return
	}
	Success(w, def)
}

// PublishDefinition помечает версию опубликованной.
// POST /api/v1/definitions/{id}/versions/{version}/publish
func (h *Handler) PublishDefinition(w http.ResponseWriter, r *http.Request) {
	h.setPublished(w, r, true)
}

// UnpublishDefinition снимает флаг публикации.
// POST /api/v1/definitions/{id}/versions/{version}/unpublish
func (h *Handler) UnpublishDefinition(w http.ResponseWriter, r *http.Request) {
	h.setPublished(w, r, false)
}

func (h *Handler) setPublished(w http.ResponseWriter, r *http.Request, published bool) {
	version, ok := parseVersion(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	var err error
	if published {
		err = h.definitions.Publish(r.Context(), id, version)
	} else {
		err = h.definitions.Unpublish(r.Context(), id, version)
	}
	if HandleEngineError(w, h.logger, err, "definition version not found") {
		return
	}

	def, err := h.definitions.Get(r.Context(), id, version)
	if HandleEngineError(w, h.logger, err, "definition version not found") {
		return
	}
	Success(w, DefinitionFromDomain(def))
}

func parseVersion(w http.ResponseWriter, r *http.Request) (int, bool) {
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version <= 0 {
		BadRequest(w, "invalid version")
		return 0, false
	}
	return version, true
}

// ListHandlers возвращает имена зарегистрированных обработчиков задач.
// GET /api/v1/handlers
func (h *Handler) ListHandlers(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		List(w, []string{}, 0)
		return
	}
	names := h.registry.Names()
	List(w, names, len(names))
}

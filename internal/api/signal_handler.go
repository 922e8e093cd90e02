package api

import (
	"encoding/json"
	"net/http"
)

// BroadcastSignal возобновляет все экземпляры, ожидающие сигнал.
// POST /api/v1/signals/{name}
//
// Если настроен publisher, сигнал публикуется в RabbitMQ и доставляется
// консьюмером движка; иначе broadcast выполняется синхронно.
func (h *Handler) BroadcastSignal(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req SignalRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if h.publisher != nil {
		if err := h.publisher.PublishSignal(r.Context(), name, req.Input); err != nil {
			InternalError(w, h.logger, err)
			return
		}
		JSON(w, http.StatusAccepted, DataResponse{Data: BroadcastResponse{Signal: name, Resumed: -1}})
		return
	}

	resumed, err := h.engine.BroadcastSignal(r.Context(), name, req.Input)
	if HandleEngineError(w, h.logger, err, "") {
		return
	}
	Success(w, BroadcastResponse{Signal: name, Resumed: resumed})
}

// TriggerEvent запускает определения, подписанные на событие.
// POST /api/v1/events/{name}
func (h *Handler) TriggerEvent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req SignalRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if h.publisher != nil {
		if err := h.publisher.PublishEvent(r.Context(), name, req.Input); err != nil {
			InternalError(w, h.logger, err)
			return
		}
		JSON(w, http.StatusAccepted, DataResponse{Data: TriggerResponse{Event: name}})
		return
	}

	started, err := h.engine.TriggerEvent(r.Context(), name, req.Input)
	if HandleEngineError(w, h.logger, err, "") {
		return
	}
	Success(w, TriggerResponse{Event: name, Started: started})
}

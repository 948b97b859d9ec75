package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/flowline-ai/flowline/internal/api/dto"
	"github.com/flowline-ai/flowline/internal/api/websocket"
	"github.com/flowline-ai/flowline/internal/domain/repositories"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin enforcement belongs to the gateway in front of the engine.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketHandler streams execution events to watchers.
type WebSocketHandler struct {
	hub     *websocket.Hub
	gateway *repositories.Gateway
}

func NewWebSocketHandler(hub *websocket.Hub, gateway *repositories.Gateway) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, gateway: gateway}
}

func (h *WebSocketHandler) Stream(w http.ResponseWriter, r *http.Request) {
	executionID, err := uuid.Parse(chi.URLParam(r, "executionID"))
	if err != nil {
		dto.BadRequest(w, "invalid execution id")
		return
	}
	if _, err := h.gateway.GetExecution(r.Context(), executionID); err != nil {
		if repositories.IsNotFound(err) {
			dto.NotFound(w, "execution")
			return
		}
		dto.InternalServerError(w, "failed to load execution")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := websocket.NewClient(h.hub, conn, executionID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

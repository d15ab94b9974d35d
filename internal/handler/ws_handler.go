package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meridianhq/meridian/internal/model"
	"github.com/meridianhq/meridian/internal/realtime"
	"github.com/meridianhq/meridian/internal/service"
)

// WSHandler upgrades subscriber connections and feeds them into the registry
type WSHandler struct {
	service  *service.AnalysisService
	registry *realtime.Registry
	opts     realtime.ConnOptions
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new websocket handler
func NewWSHandler(service *service.AnalysisService, registry *realtime.Registry, opts realtime.ConnOptions) *WSHandler {
	return &WSHandler{
		service:  service,
		registry: registry,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from arbitrary origins; auth is out of band
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Subscribe handles GET /ws/{analysis_id}. Unknown analyses are rejected
// with 404 before the upgrade so clients can distinguish a missing analysis
// from a transport failure.
func (h *WSHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	analysisID := strings.TrimPrefix(r.URL.Path, "/ws/")
	analysisID = strings.Split(analysisID, "/")[0]

	if analysisID == "" {
		writeError(w, http.StatusBadRequest, "Analysis ID is required")
		return
	}

	if _, err := h.service.Status(r.Context(), analysisID); err != nil {
		writeServiceError(w, err)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed",
			"analysis_id", analysisID,
			"error", err.Error(),
		)
		return
	}

	conn := realtime.NewWSConn(ws, h.opts)
	go conn.WritePump()

	h.registry.Register(analysisID, conn)

	h.sendConnectionStatus(conn, analysisID)

	h.readLoop(ws, conn, analysisID)
}

// sendConnectionStatus pushes the initial connected notice
func (h *WSHandler) sendConnectionStatus(conn *realtime.WSConn, analysisID string) {
	env, err := model.NewEnvelope(model.MessageConnectionStatus, model.ConnectionStatus{
		Status:     "connected",
		AnalysisID: analysisID,
		Message:    "subscribed to analysis updates",
	})
	if err != nil {
		return
	}

	if err := conn.Send(env); err != nil {
		slog.Debug("Failed to send connection status",
			"analysis_id", analysisID,
			"connection_id", conn.ID(),
			"error", err.Error(),
		)
	}
}

// readLoop consumes inbound messages until the peer goes away. The only
// meaningful client message is a snapshot request; everything else keeps the
// connection alive but is otherwise ignored.
func (h *WSHandler) readLoop(ws *websocket.Conn, conn *realtime.WSConn, analysisID string) {
	defer func() {
		h.registry.Unregister(conn)
		conn.Close()
	}()

	ws.SetReadLimit(h.opts.ReadLimit)
	ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
		return nil
	})

	for {
		var env model.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("WebSocket read failed",
					"analysis_id", analysisID,
					"connection_id", conn.ID(),
					"error", err.Error(),
				)
			}
			return
		}

		switch env.Type {
		case model.MessageGetSnapshot:
			h.sendSnapshot(conn, analysisID)
		default:
			slog.Debug("Ignoring unknown client message",
				"analysis_id", analysisID,
				"type", env.Type,
			)
		}
	}
}

// sendSnapshot replies to an explicit catch-up request with the current state
func (h *WSHandler) sendSnapshot(conn *realtime.WSConn, analysisID string) {
	update, err := h.service.Status(context.Background(), analysisID)
	if err != nil {
		env, envErr := model.NewEnvelope(model.MessageError, model.ErrorPayload{
			Code:    model.ErrorCodeNotFound,
			Message: "analysis not found",
		})
		if envErr == nil {
			conn.Send(env)
		}
		return
	}

	env, err := model.NewEnvelope(model.MessageSnapshot, update)
	if err != nil {
		return
	}

	if err := conn.Send(env); err != nil {
		slog.Debug("Failed to send snapshot",
			"analysis_id", analysisID,
			"connection_id", conn.ID(),
			"error", err.Error(),
		)
	}
}

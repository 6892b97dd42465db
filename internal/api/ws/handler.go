// Package ws streams live terminal command output over WebSocket.
package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bioinfoflow/backend/internal/infrastructure/logging"
	"github.com/bioinfoflow/backend/internal/terminal"
)

// pollInterval is how often a watched command's snapshot is re-read.
const pollInterval = 200 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced at the HTTP layer
	},
}

// ConnGauge tracks open connections. Implemented by the metrics layer.
type ConnGauge interface {
	Inc()
	Dec()
}

// Handler manages terminal watch connections.
type Handler struct {
	store  *terminal.Store
	gauge  ConnGauge
	logger *logging.Logger
}

// NewHandler creates the WebSocket handler. gauge may be nil.
func NewHandler(store *terminal.Store, gauge ConnGauge, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{store: store, gauge: gauge, logger: logger}
}

type clientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	CommandID string `json:"command_id,omitempty"`
}

// HandleConnection upgrades the request and serves watch requests until the
// client disconnects.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.gauge != nil {
		h.gauge.Inc()
		defer h.gauge.Dec()
	}

	h.send(conn, gin.H{"type": "system", "message": "terminal stream connected"})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "watch":
			h.watch(conn, msg.SessionID, msg.CommandID)
		case "ping":
			h.send(conn, gin.H{"type": "pong"})
		default:
			h.send(conn, gin.H{"type": "error", "error": "unknown message type"})
		}
	}
}

// watch polls a command's snapshot and pushes appended output until the
// command reaches a terminal status.
func (h *Handler) watch(conn *websocket.Conn, sessionID, commandID string) {
	session, err := h.store.Get(sessionID)
	if err != nil {
		h.send(conn, gin.H{"type": "error", "error": err.Error()})
		return
	}
	view, ok := session.Command(commandID)
	if !ok {
		h.send(conn, gin.H{"type": "error", "error": "command not found"})
		return
	}

	sent := 0
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if len(view.Output) > sent {
			if !h.send(conn, gin.H{
				"type":       "output",
				"command_id": commandID,
				"chunk":      view.Output[sent:],
				"status":     view.Status,
			}) {
				return
			}
			sent = len(view.Output)
		}

		if view.Status.Terminal() {
			h.send(conn, gin.H{
				"type":       "done",
				"command_id": commandID,
				"status":     view.Status,
				"error":      view.Error,
			})
			return
		}

		<-ticker.C
		view, ok = session.Command(commandID)
		if !ok {
			return
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, payload gin.H) bool {
	if err := conn.WriteJSON(payload); err != nil {
		h.logger.Debug("websocket write failed", zap.Error(err))
		return false
	}
	return true
}

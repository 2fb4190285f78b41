package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/avermeer/circlesift/internal/common"
	"github.com/avermeer/circlesift/internal/models"
	"github.com/avermeer/circlesift/internal/scan"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// wsMessage is the wire shape pushed to progress subscribers
type wsMessage struct {
	Type     string           `json:"type"`
	JobID    string           `json:"job_id"`
	Status   models.JobStatus `json:"status"`
	Stage    models.JobStage  `json:"stage"`
	Sequence uint64           `json:"sequence"`
	Progress int              `json:"progress"`
	Current  int              `json:"current"`
	Total    int              `json:"total"`
	Message  string           `json:"message,omitempty"`
}

// WebSocketHandler streams per-job progress events to dashboard clients
type WebSocketHandler struct {
	manager      *scan.Manager
	pushInterval time.Duration
	logger       arbor.ILogger
}

func NewWebSocketHandler(manager *scan.Manager, config *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{
		manager:      manager,
		pushInterval: common.Duration(config.PushInterval, time.Second),
		logger:       logger,
	}
}

// ScanSocketHandler handles WS /ws/scan/{job_id}. The stream begins with
// the current snapshot, is throttled to roughly one message per push
// interval while the job runs, always delivers terminal events, and closes
// once the job reaches a terminal state. Unknown job IDs are rejected
// before the upgrade.
func (h *WebSocketHandler) ScanSocketHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	events, unsubscribe, err := h.manager.Subscribe(jobID)
	if err != nil {
		http.Error(w, "scan job not found", http.StatusNotFound)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	h.logger.Debug().Str("job_id", jobID).Str("remote", r.RemoteAddr).Msg("WebSocket subscriber connected")

	// drain client frames so we notice disconnects
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	throttle := rate.NewLimiter(rate.Every(h.pushInterval), 1)

	for {
		select {
		case <-disconnected:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if !event.Terminal() && !throttle.Allow() {
				continue
			}

			msg := wsMessage{
				Type:     "progress",
				JobID:    event.JobID,
				Status:   event.Status,
				Stage:    event.Stage,
				Sequence: event.Sequence,
				Progress: event.Progress,
				Current:  event.Current,
				Total:    event.Total,
				Message:  event.Message,
			}

			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug().Err(err).Str("job_id", jobID).Msg("WebSocket write failed")
				return
			}

			if event.Terminal() {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scan finished"))
				return
			}
		}
	}
}

package import_feature

import (
	"sync"
	"time"

	"go-assettrack/internal/models"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
)

// ProgressBroadcaster publishes job-progress snapshots to interested
// subscribers. Delivery is best-effort: a missed event never affects job
// correctness, the authoritative counters live in the job store.
type ProgressBroadcaster interface {
	Publish(event models.ProgressEvent)
}

// WebSocketHub fans progress events out to dashboard connections subscribed
// per job id.
type WebSocketHub struct {
	mu   sync.RWMutex
	subs map[string]map[*websocket.Conn]bool
	log  *zap.Logger
}

func NewWebSocketHub(log *zap.Logger) *WebSocketHub {
	return &WebSocketHub{
		subs: make(map[string]map[*websocket.Conn]bool),
		log:  log,
	}
}

// AsProgressBroadcaster exposes the hub under the interface for fx wiring.
func AsProgressBroadcaster(hub *WebSocketHub) ProgressBroadcaster {
	return hub
}

func (h *WebSocketHub) Subscribe(jobID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*websocket.Conn]bool)
	}
	h.subs[jobID][conn] = true
}

func (h *WebSocketHub) Unsubscribe(jobID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns := h.subs[jobID]; conns != nil {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.subs, jobID)
		}
	}
}

// Publish sends the event to every subscriber of the job. At-most-once: a
// slow or broken connection is dropped, never waited on.
func (h *WebSocketHub) Publish(event models.ProgressEvent) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.subs[event.JobID]))
	for conn := range h.subs[event.JobID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteJSON(event); err != nil {
			h.log.Debug("dropping slow progress subscriber",
				zap.String("job_id", event.JobID),
				zap.Error(err))
			h.Unsubscribe(event.JobID, conn)
			conn.Close()
		}
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/workflow"
)

// EventsHandler streams a run's event log over a websocket. Events already
// logged are replayed first; new ones follow as the run produces them. The
// connection closes once the run is terminal and the log is drained.
type EventsHandler struct {
	store  *workflow.Store
	logger *zap.Logger
}

// NewEventsHandler creates the handler.
func NewEventsHandler(store *workflow.Store, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{
		store:  store,
		logger: logger.With(zap.String("handler", "events")),
	}
}

// Register wires the routes onto the mux.
func (h *EventsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/workflows/{id}/events", h.Stream)
}

// pollInterval is how often the stream checks for new log entries.
const pollInterval = 200 * time.Millisecond

// Stream upgrades to a websocket and pushes events as JSON text messages.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, _, ok := h.store.Events(id, 0); !ok {
		WriteNotFound(w, "workflow execution not found")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()
	offset := 0
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		events, active, ok := h.store.Events(id, offset)
		if !ok {
			conn.Close(websocket.StatusGoingAway, "run evicted")
			return
		}
		for _, ev := range events {
			if err := h.write(ctx, conn, ev); err != nil {
				return
			}
		}
		offset += len(events)
		if !active && len(events) == 0 {
			conn.Close(websocket.StatusNormalClosure, "run finished")
			return
		}

		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client gone")
			return
		case <-ticker.C:
		}
	}
}

func (h *EventsHandler) write(ctx context.Context, conn *websocket.Conn, ev workflow.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, body)
}

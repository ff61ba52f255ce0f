package events

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Stream upgrades the request to a websocket and writes every published
// event as a JSON text message until either side closes.
func (p *Publisher) Stream(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Failed to upgrade event stream", "error", err)
		return
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			slog.Debug("Failed to close event stream", "error", closeErr)
		}
	}()

	events, unsubscribe := p.Subscribe()
	defer unsubscribe()

	// The read loop only notices the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if deadlineErr := conn.SetWriteDeadline(time.Now().Add(writeWait)); deadlineErr != nil {
				return
			}
			if writeErr := conn.WriteJSON(event); writeErr != nil {
				slog.Debug("Event stream write failed", "error", writeErr)
				return
			}
		}
	}
}

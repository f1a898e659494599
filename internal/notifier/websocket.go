package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// WebSocketNotifier broadcasts events to every desktop-UI client connected
// over a local WebSocket, as an alternative framing to line-delimited
// JSON over stdio. Disconnected clients are pruned lazily on the next
// failed write.
type WebSocketNotifier struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewWebSocketNotifier returns an empty broadcaster; clients register
// themselves via AddClient as they connect to the local control socket.
func NewWebSocketNotifier() *WebSocketNotifier {
	return &WebSocketNotifier{clients: make(map[*websocket.Conn]struct{})}
}

// AddClient registers a newly-accepted connection to receive events.
func (n *WebSocketNotifier) AddClient(c *websocket.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clients[c] = struct{}{}
}

// RemoveClient unregisters a connection, e.g. once its read loop exits.
func (n *WebSocketNotifier) RemoveClient(c *websocket.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.clients, c)
}

func (n *WebSocketNotifier) Notify(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		slog.Error("notifier: marshal event", "type", e.Type, "error", err)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for c := range n.clients {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.Write(ctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			slog.Warn("notifier: dropping unresponsive client", "error", err)
			delete(n.clients, c)
		}
	}
}

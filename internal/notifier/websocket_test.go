package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketNotifier_BroadcastsToConnectedClient(t *testing.T) {
	n := NewWebSocketNotifier()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		n.AddClient(conn)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	require.NoError(t, err)
	defer client.Close(websocket.StatusNormalClosure, "")

	// give the server's Accept a moment to register the client before we
	// broadcast, since AddClient runs in the handler's goroutine.
	time.Sleep(50 * time.Millisecond)

	n.Notify(Event{Type: EventSyncStarted, Folder: "f1"})

	_, data, err := client.Read(ctx)
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, EventSyncStarted, got.Type)
	assert.Equal(t, "f1", got.Folder)
}

func TestWebSocketNotifier_RemoveClientStopsDelivery(t *testing.T) {
	n := NewWebSocketNotifier()
	n.AddClient(nil)
	assert.Len(t, n.clients, 1)
	n.RemoveClient(nil)
	assert.Empty(t, n.clients)
}

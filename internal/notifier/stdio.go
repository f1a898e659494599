package notifier

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
)

// StdioNotifier writes each Event as one line of JSON to an underlying
// writer — the line-delimited JSON framing used for the IPC channel to
// the desktop UI. A mutex serializes writes since Notify is called from
// many engine goroutines concurrently (watcher, reconciler, executor
// workers).
type StdioNotifier struct {
	mu sync.Mutex
	w  io.Writer
	enc *json.Encoder
}

// NewStdioNotifier wraps w (typically the IPC channel's write end) with
// line-delimited JSON event framing.
func NewStdioNotifier(w io.Writer) *StdioNotifier {
	return &StdioNotifier{w: w, enc: json.NewEncoder(w)}
}

func (n *StdioNotifier) Notify(e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.enc.Encode(e); err != nil {
		slog.Error("notifier: write event", "type", e.Type, "error", err)
	}
}

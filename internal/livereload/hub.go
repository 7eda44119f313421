// Package livereload pushes query results and reload signals to browsers
// over server-sent events.
package livereload

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"git.home.luguber.info/inful/sitedev/internal/logfields"
	"git.home.luguber.info/inful/sitedev/internal/metrics"
)

// SSE event names.
const (
	EventStaticQueryResult = "staticQueryResult"
	EventPageQueryResult   = "pageQueryResult"
	EventReload            = "reload"
)

const heartbeat = 30 * time.Second

type message struct {
	event string
	data  []byte
}

type client struct {
	id   int
	ch   chan message
	done chan struct{}
}

// Hub manages SSE clients. It satisfies develop.Broadcaster.
type Hub struct {
	mu       sync.RWMutex
	nextID   int
	clients  map[int]*client
	rec      metrics.Recorder
	logger   *slog.Logger
	closed   bool
	lastHash string
}

// NewHub returns an empty hub. A nil logger falls back to slog.Default.
func NewHub(rec metrics.Recorder, logger *slog.Logger) *Hub {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: map[int]*client{}, rec: rec, logger: logger}
}

type queryPayload struct {
	ID     string `json:"id"`
	Result any    `json:"result"`
}

// EmitStaticQueryData sends one static query result to every client.
func (h *Hub) EmitStaticQueryData(id string, result any) {
	h.emitJSON(EventStaticQueryResult, queryPayload{ID: id, Result: result})
}

// EmitPageData sends one page query result to every client.
func (h *Hub) EmitPageData(id string, result any) {
	h.emitJSON(EventPageQueryResult, queryPayload{ID: id, Result: result})
}

// Reload tells clients to reload when hash differs from the last one sent.
func (h *Hub) Reload(hash string) {
	h.mu.Lock()
	if hash == "" || hash == h.lastHash {
		h.mu.Unlock()
		return
	}
	h.lastHash = hash
	h.mu.Unlock()
	h.emitJSON(EventReload, map[string]string{"hash": hash})
}

func (h *Hub) emitJSON(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("livereload: cannot encode payload", slog.String("event", event), logfields.Error(err))
		return
	}
	h.broadcast(message{event: event, data: data})
}

// broadcast drops clients whose buffer is full.
func (h *Hub) broadcast(msg message) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	snapshot := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	dropped := 0
	for _, c := range snapshot {
		select {
		case c.ch <- msg:
		default:
			dropped++
			h.removeClient(c.id)
		}
	}
	h.logger.Debug("livereload broadcast", slog.String("event", msg.event), slog.Int("clients", len(snapshot)), slog.Int("dropped", dropped))
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP implements the SSE endpoint.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	c := &client{ch: make(chan message, 32), done: make(chan struct{})}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "livereload shutting down", http.StatusServiceUnavailable)
		return
	}
	c.id = h.nextID
	h.nextID++
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.rec.SetLiveClients(n)
	defer h.removeClient(c.id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	bw := bufio.NewWriter(w)
	write := func(s string) bool {
		if _, err := bw.WriteString(s); err != nil {
			h.logger.Debug("livereload write", logfields.Error(err))
			return false
		}
		if err := bw.Flush(); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	if !write(": connected\n\n") {
		return
	}

	hb := time.NewTicker(heartbeat)
	defer hb.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			return
		case <-hb.C:
			if !write(": ping\n\n") {
				return
			}
		case msg := <-c.ch:
			if !write("event: " + msg.event + "\ndata: " + string(msg.data) + "\n\n") {
				return
			}
		}
	}
}

func (h *Hub) removeClient(id int) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
		close(c.done)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.rec.SetLiveClients(n)
	}
}

// Shutdown disconnects every client and stops future broadcasts.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = map[int]*client{}
	h.mu.Unlock()
	for _, c := range clients {
		close(c.done)
	}
	h.rec.SetLiveClients(0)
}

// Script is the client snippet injected into rendered pages. It reloads on
// reload events and re-fetches the current page when its query result changes.
const Script = `(() => {
  if (window.__SITEDEV_LR__) return;
  window.__SITEDEV_LR__ = true;
  function connect() {
    const es = new EventSource('/__live');
    let hash = null;
    es.addEventListener('reload', (e) => {
      const p = JSON.parse(e.data);
      if (hash !== null && p.hash !== hash) location.reload();
      hash = p.hash;
    });
    es.addEventListener('pageQueryResult', (e) => {
      const p = JSON.parse(e.data);
      if (p.id === location.pathname) location.reload();
    });
    es.onerror = () => { es.close(); setTimeout(connect, 2000); };
  }
  connect();
})();`

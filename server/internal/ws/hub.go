package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/linekpi/linekpi/server/internal/api"
	"github.com/linekpi/linekpi/server/internal/store"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Events sent to clients.
const (
	// EventSnapshot is sent on connect and on every interval tick.
	EventSnapshot = "snapshot"
	// EventUpdate is sent as soon as a line the client follows changes.
	EventUpdate = "update"
)

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string               `json:"event"`
	Data  api.SnapshotResponse `json:"data"`
}

// Hub manages WebSocket client connections. It sends the line snapshot to
// every client each interval, and pushes an update to the clients following
// a line as soon as Notify reports it changed.
type Hub struct {
	store    *store.Store
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}

	changedMu sync.Mutex
	changed   map[string]struct{}
	wake      chan struct{}
}

// client represents one connected WebSocket client. line, when set,
// restricts its snapshots to one line.
type client struct {
	conn *websocket.Conn
	send chan []byte
	line string
}

// New creates a Hub that reads from st and broadcasts every interval.
func New(st *store.Store, interval time.Duration) *Hub {
	return &Hub{
		store:    st,
		interval: interval,
		clients:  make(map[*client]struct{}),
		changed:  make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// Notify records that line changed or was removed. Notifications arriving
// faster than the hub can send coalesce into one update per client.
func (h *Hub) Notify(line string) {
	h.changedMu.Lock()
	h.changed[line] = struct{}{}
	h.changedMu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Run starts the broadcast loop: a snapshot to every client each interval,
// and updates for changed lines in between. Run blocks until ctx is
// cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			h.takeChanged()
			h.broadcast(EventSnapshot, nil)
		case <-h.wake:
			if changed := h.takeChanged(); len(changed) > 0 {
				h.broadcast(EventUpdate, changed)
			}
		}
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// ?line=id limits the client to one line. The current snapshot is sent
// immediately on connect, then on every tick. Blocks until the connection
// closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
		line: r.URL.Query().Get("line"),
	}
	h.register(c)
	defer h.unregister(c)

	// Send the current snapshot immediately so the client has data right away.
	if data, err := h.buildMessage(EventSnapshot, c.line); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Debug("ws: client connected", "line", c.line)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// takeChanged returns and clears the lines reported through Notify.
func (h *Hub) takeChanged() map[string]struct{} {
	h.changedMu.Lock()
	defer h.changedMu.Unlock()
	changed := h.changed
	h.changed = make(map[string]struct{})
	return changed
}

// broadcast builds one message per distinct line filter and queues it for
// every client. With a changed set, only clients following one of those lines
// (or all lines) receive it. The read lock is held while sending so no channel
// is closed underneath; clients with a full buffer are disconnected afterwards.
func (h *Hub) broadcast(event string, changed map[string]struct{}) {
	msgs := make(map[string][]byte)
	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		if changed != nil && c.line != "" {
			if _, ok := changed[c.line]; !ok {
				continue
			}
		}
		data, ok := msgs[c.line]
		if !ok {
			var err error
			if data, err = h.buildMessage(event, c.line); err != nil {
				slog.Error("ws: build message", "err", err)
				continue
			}
			msgs[c.line] = data
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.unregister(c)
	}
}

func (h *Hub) buildMessage(event, line string) ([]byte, error) {
	msg := Message{
		Event: event,
		Data:  api.BuildSnapshot(h.store, line),
	}
	return json.Marshal(msg)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages (pong,
// close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

package livereload

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gammazero/workerpool"
	ws "github.com/gorilla/websocket"
)

const (
	// SocketPath is where pages connect for reload notifications.
	SocketPath = "/__livereload"
	// ScriptPath serves the page-side client.
	ScriptPath = "/__livereload.js"
)

const broadcastWorkers = 4

// Hub keeps the connected pages and fans reload notifications out to them.
type Hub struct {
	ctx      context.Context
	cancel   context.CancelFunc
	options  ClientOptions
	upgrader ws.Upgrader
	logger   *slog.Logger
	pool     *workerpool.WorkerPool

	mutex   sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
}

// NewHub returns a Hub whose clients use options. Close releases it.
func NewHub(options ClientOptions, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		ctx:     ctx,
		cancel:  cancel,
		options: options,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:  logger,
		pool:    workerpool.New(broadcastWorkers),
		clients: make(map[*Client]struct{}),
	}
}

// ServeHTTP upgrades the request and blocks until the page disconnects.
// Headers already set on w, such as CORS, are repeated on the handshake.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mutex.RLock()
	closed := h.closed
	h.mutex.RUnlock()
	if closed {
		http.Error(w, "live reload stopped", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, w.Header().Clone())
	if err != nil {
		h.logger.Debug("live reload upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := newClient(h.ctx, conn, h.options, h.logger)
	if !h.add(client) {
		client.Close()
		return
	}
	defer h.remove(client)

	h.logger.Debug("live reload client connected", slog.String("remote", r.RemoteAddr))
	client.run()
}

func (h *Hub) add(c *Client) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *Client) {
	h.mutex.Lock()
	delete(h.clients, c)
	h.mutex.Unlock()
}

// Clients returns the number of connected pages.
func (h *Hub) Clients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Broadcast queues a reload notification for every connected page and
// returns how many were targeted.
func (h *Hub) Broadcast(paths []string) (int, error) {
	msg, err := reloadNotification(paths)
	if err != nil {
		return 0, err
	}

	// Submitting under the read lock keeps Close from stopping the pool mid-loop.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.closed {
		return 0, nil
	}

	for c := range h.clients {
		c := c
		h.pool.Submit(func() {
			if err := c.Send(h.ctx, msg); err != nil {
				h.logger.Debug("live reload send failed", slog.String("error", err.Error()))
			}
		})
	}

	h.logger.Info("reload", slog.Int("clients", len(h.clients)), slog.Any("paths", paths))

	return len(h.clients), nil
}

// Closed reports whether Close has been called.
func (h *Hub) Closed() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.closed
}

// Close disconnects every page. It is safe to call more than once.
func (h *Hub) Close() {
	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	h.mutex.Unlock()

	h.cancel()
	for c := range clients {
		c.Close()
	}
	h.pool.StopWait()
}

// Package observe streams servo observations to websocket clients, e.g. a
// visualizer drawing the proxy and force vector.
package observe

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Faultbox/hapticore/internal/logger"
)

const publishBuffer = 256

// Hub maintains the set of connected clients and broadcasts to them.
// Publish never blocks, so it may be called from the servo goroutine.
type Hub struct {
	clients map[*client]struct{}
	mu      sync.RWMutex

	publish    chan any
	register   chan *client
	unregister chan *client
	done       chan struct{}

	upgrader websocket.Upgrader
	log      *zap.Logger

	dropped atomic.Uint64
	encErrs atomic.Uint64
}

// NewHub returns a hub. Call Run to start broadcasting.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		publish:    make(chan any, publishBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Observers are local tools; any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: logger.Or(log).Named("observe"),
	}
}

// Run broadcasts published values until ctx ends, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info("Observer connected", zap.String("remote", c.remote), zap.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info("Observer disconnected", zap.String("remote", c.remote), zap.Int("clients", n))

		case v := <-h.publish:
			data, err := json.Marshal(v)
			if err != nil {
				if h.encErrs.Add(1) == 1 {
					h.log.Warn("Dropping unencodable observation", zap.Error(err))
				}
				continue
			}
			h.broadcast(data)
		}
	}
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Too slow to keep up.
			delete(h.clients, c)
			close(c.send)
			h.log.Warn("Dropped slow observer", zap.String("remote", c.remote))
		}
	}
}

// Publish queues v for broadcast as JSON. When the queue is full v is
// dropped and counted.
func (h *Hub) Publish(v any) {
	select {
	case h.publish <- v:
	default:
		h.dropped.Add(1)
	}
}

// Dropped returns how many published values were discarded.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler upgrades requests to websocket observers.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Debug("Websocket upgrade failed", zap.Error(err))
			return
		}
		c := newClient(h, conn, r.RemoteAddr)
		select {
		case h.register <- c:
		case <-h.done:
			conn.Close()
			return
		}
		c.run()
	})
}

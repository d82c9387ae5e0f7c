package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// MaxWSConnectionsTotal caps open websocket connections.
	MaxWSConnectionsTotal = 500
	// MaxWSConnectionsPerIP caps open websocket connections per address.
	MaxWSConnectionsPerIP = 10

	// BroadcastInterval is how often the latest cycle summary is pushed.
	BroadcastInterval = 100 * time.Millisecond

	// EventCycleSnapshot carries a sim.Summary.
	EventCycleSnapshot = "cycle:snapshot"

	wsWriteTimeout = 2 * time.Second
)

type wsClient struct {
	conn *websocket.Conn
	ip   string
}

// wsMessage is the envelope of every broadcast.
type wsMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// WebSocketHub fans broadcasts out to connected clients.
type WebSocketHub struct {
	clients    map[*websocket.Conn]*wsClient
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *websocket.Conn
	mu         sync.RWMutex

	upgrader  websocket.Upgrader
	wsLimiter *WebSocketRateLimiter
	logger    *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWebSocketHub builds a hub accepting origins matched by origins.
func NewWebSocketHub(origins *OriginChecker, logger *zap.Logger) *WebSocketHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &WebSocketHub{
		clients:    make(map[*websocket.Conn]*wsClient),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *websocket.Conn),
		wsLimiter:  NewWebSocketRateLimiter(MaxWSConnectionsPerIP),
		logger:     logger.Named("ws"),
		stopCh:     make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origins.Allowed(origin) {
				return true
			}
			h.logger.Warn("websocket origin rejected", zap.String("origin", origin))
			RecordConnectionRejected("origin")
			return false
		},
	}
	return h
}

// Run serves register, unregister and broadcast until Stop.
func (h *WebSocketHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", zap.String("ip", c.ip), zap.Int("clients", n))
			wsConnectionsActive.Set(float64(n))

		case conn := <-h.unregister:
			h.drop(conn)

		case msg := <-h.broadcast:
			h.mu.RLock()
			conns := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				conns = append(conns, conn)
			}
			h.mu.RUnlock()

			for _, conn := range conns {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.drop(conn)
				}
			}
			wsMessagesTotal.Inc()

		case <-h.stopCh:
			h.mu.Lock()
			for conn, c := range h.clients {
				h.wsLimiter.Release(c.ip)
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			wsConnectionsActive.Set(0)
			return
		}
	}
}

func (h *WebSocketHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	c, ok := h.clients[conn]
	if ok {
		h.wsLimiter.Release(c.ip)
		delete(h.clients, conn)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		conn.Close()
		h.logger.Debug("client disconnected", zap.Int("clients", n))
		wsConnectionsActive.Set(float64(n))
	}
}

// Stop closes every connection and ends Run.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// Broadcast queues an event for every client. It drops the event when the
// queue is full.
func (h *WebSocketHub) Broadcast(event string, data any) {
	b, err := json.Marshal(wsMessage{Event: event, Data: data})
	if err != nil {
		h.logger.Error("broadcast encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- b:
	default:
	}
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartBroadcastLoop pushes the latest cycle summary every
// BroadcastInterval, skipping ticks with no clients or no new cycle.
func (h *WebSocketHub) StartBroadcastLoop(runner RunnerInterface) {
	go func() {
		ticker := time.NewTicker(BroadcastInterval)
		defer ticker.Stop()

		var lastSeq uint64
		for {
			select {
			case <-h.stopCh:
				return
			case <-ticker.C:
			}
			if h.ClientCount() == 0 {
				continue
			}
			snap := runner.Latest()
			if snap == nil || snap.Sequence == lastSeq {
				continue
			}
			lastSeq = snap.Sequence
			h.Broadcast(EventCycleSnapshot, snap.Summary())
		}
	}()
}

// HandleWebSocket upgrades the request and registers the client. Clients
// only receive; incoming messages are read and discarded to service pings
// and detect closure.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if n := h.ClientCount(); n >= MaxWSConnectionsTotal {
		h.logger.Warn("websocket rejected: total limit", zap.Int("clients", n))
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.wsLimiter.Allow(ip) {
		h.logger.Warn("websocket rejected: per-IP limit", zap.String("ip", ip))
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.wsLimiter.Release(ip)
		return
	}

	select {
	case h.register <- &wsClient{conn: conn, ip: ip}:
	case <-h.stopCh:
		h.wsLimiter.Release(ip)
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.stopCh:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

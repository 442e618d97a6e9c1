package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Fenveireth/lightspark/internal/logging"
	"github.com/Fenveireth/lightspark/internal/monitoring"
	"github.com/Fenveireth/lightspark/internal/security"
)

const (
	// Outbound events buffered per client before it is dropped.
	sendBuffer = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Trust decisions happen in the engine, not here
	},
}

// Message is the frame subscribers receive.
type Message struct {
	Type    string         `json:"type"`
	Event   security.Event `json:"event,omitempty"`
	Message string         `json:"message,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans the security decision stream out to WebSocket subscribers.
// It implements security.EventSink: Publish never blocks, and a client
// that cannot keep up is disconnected rather than allowed to stall the
// engine.
type Hub struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu      sync.RWMutex
	clients map[string]*client // Protected by mu
	closed  bool               // Protected by mu
}

// NewHub creates an event hub.
func NewHub(logger *logging.Logger, metrics *monitoring.Metrics) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{
		logger:  logger,
		metrics: metrics,
		clients: make(map[string]*client),
	}
}

// Publish broadcasts one security event to every subscriber. Events
// for clients with full buffers are discarded and the client dropped.
func (h *Hub) Publish(e security.Event) {
	data, err := sonic.Marshal(Message{Type: "event", Event: e})
	if err != nil {
		h.logger.Warn("event marshal failed", zap.Error(err))
		return
	}

	h.mu.RLock()
	slow := make([]*client, 0)
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow event subscriber", zap.String("client", c.id))
		h.unregister(c)
	}
}

// Len returns the subscriber count.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

// HandleConnection upgrades the request and streams events until the
// client disconnects.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	if !h.register(cl) {
		conn.Close()
		return
	}

	welcome, _ := sonic.Marshal(Message{Type: "system", Message: "subscribed to security events"})
	select {
	case cl.send <- welcome:
	default:
	}

	go h.writePump(cl)
	h.readPump(cl)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	h.metrics.IncWSConnections()
	h.logger.Info("event subscriber connected", zap.String("client", c.id))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	if ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	c.conn.Close()
	h.metrics.DecWSConnections()
	h.logger.Info("event subscriber disconnected", zap.String("client", c.id))
}

// readPump consumes inbound frames so pongs and close frames are
// processed; subscribers have nothing to say otherwise.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

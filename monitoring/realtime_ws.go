package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"carprice/predict"
)

// MessageType 消息类型
type MessageType string

const (
	PredictionEvent MessageType = "prediction"
	SystemStatus    MessageType = "system_status"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
	readLimit  = 4096
)

var (
	ErrHubStopped = errors.New("websocket hub stopped")
	ErrQueueFull  = errors.New("websocket broadcast queue is full")
)

// Message 推送消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	ID        string          `json:"id,omitempty"`
}

// Stats 推送统计
type Stats struct {
	ConnectedClients int64     `json:"connected_clients"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesDropped  int64     `json:"messages_dropped"`
	StartTime        time.Time `json:"start_time"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	id   string
}

// Hub 预测事件推送中心
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *zap.Logger

	clientSeq atomic.Uint64
	msgSeq    atomic.Uint64
	sent      atomic.Int64
	dropped   atomic.Int64
	started   time.Time
}

// NewHub 创建推送中心. An empty origin list or "*" accepts any origin.
func NewHub(logger *zap.Logger, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.Named("ws"),
		started: time.Now(),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Run 启动推送循环, blocking until Stop is called.
func (h *Hub) Run() {
	defer h.logger.Info("websocket hub stopped")

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", zap.String("client", c.id), zap.Int("total", n))
			h.greet(c)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", zap.String("client", c.id), zap.Int("total", n))

		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
					h.sent.Add(1)
				default:
					// slow consumer
					close(c.send)
					delete(h.clients, c)
					h.dropped.Add(1)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop 停止推送中心
func (h *Hub) Stop() {
	h.cancel()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats 获取推送统计
func (h *Hub) Stats() Stats {
	return Stats{
		ConnectedClients: int64(h.Clients()),
		MessagesSent:     h.sent.Load(),
		MessagesDropped:  h.dropped.Load(),
		StartTime:        h.started,
	}
}

// greet sends the current status to a newly registered client. Only Run calls
// it, so c.send cannot be closed underneath.
func (h *Hub) greet(c *client) {
	data, err := json.Marshal(h.Stats())
	if err != nil {
		return
	}
	msg, err := json.Marshal(Message{Type: SystemStatus, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
		h.sent.Add(1)
	default:
	}
}

// HandleWebSocket 处理WebSocket连接
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, ErrHubStopped.Error(), http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		id:   fmt.Sprintf("client-%d", h.clientSeq.Add(1)),
	}

	select {
	case h.register <- c:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go c.writePump(h.logger)
	go c.readPump(h)
}

// Broadcast 广播消息
func (h *Hub) Broadcast(message []byte) error {
	if h.ctx.Err() != nil {
		return ErrHubStopped
	}
	select {
	case h.broadcast <- message:
		return nil
	default:
		h.dropped.Add(1)
		return ErrQueueFull
	}
}

// Record implements predict.Recorder by pushing the event to every client.
func (h *Hub) Record(_ context.Context, ev predict.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Message{
		Type:      PredictionEvent,
		Timestamp: ev.At,
		Data:      data,
		ID:        strconv.FormatUint(h.msgSeq.Add(1), 10),
	})
	if err != nil {
		return err
	}
	return h.Broadcast(msg)
}

func (c *client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("websocket write failed", zap.String("client", c.id), zap.Error(err))
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

// readPump only drains control frames; clients never send data.
func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
	}
}

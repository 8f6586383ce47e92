package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB

	// Send buffer size per client.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Local testing tool, allow all origins
}

// Client represents a WebSocket client connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	connID string
	topics map[string]bool
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// enqueue offers a payload to the client's send buffer without blocking.
// Returns false when the buffer is full or the client is already closed.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel exactly once. Only the hub calls this.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ServeWS upgrades the request and registers the connection with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		connID: uuid.New().String(),
		topics: make(map[string]bool),
		logger: h.logger,
	}

	h.register <- client

	client.sendFrame(newFrame("connected", "", map[string]string{"conn_id": client.connID}))

	go client.writePump()
	go client.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *Client) writePump() {
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
				// Channel closed, send close message
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
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

// handleMessage processes an incoming client request.
func (c *Client) handleMessage(data []byte) {
	var req clientRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.logger.Debug("failed to parse client request",
			zap.String("connID", c.connID),
			zap.Error(err),
		)
		c.sendFrame(newFrame("error", "", map[string]string{"message": "invalid request"}))
		return
	}

	switch req.Action {
	case "subscribe":
		if !ValidTopic(req.Topic) {
			c.logger.Debug("invalid topic",
				zap.String("connID", c.connID),
				zap.String("topic", req.Topic),
			)
			c.sendFrame(newFrame("error", req.Topic, map[string]string{"message": "invalid topic"}))
			return
		}
		c.hub.Subscribe(c, req.Topic)
		c.sendFrame(newFrame("subscribed", req.Topic, nil))

	case "unsubscribe":
		c.hub.Unsubscribe(c, req.Topic)
		c.sendFrame(newFrame("unsubscribed", req.Topic, nil))

	case "ping":
		c.sendFrame(newFrame("pong", "", nil))

	default:
		c.sendFrame(newFrame("error", "", map[string]string{"message": "unknown action"}))
	}
}

// sendFrame marshals and enqueues a control frame for this client only.
func (c *Client) sendFrame(f frame) {
	payload, err := json.Marshal(f)
	if err != nil {
		c.logger.Error("failed to marshal frame", zap.Error(err))
		return
	}
	c.enqueue(payload)
}

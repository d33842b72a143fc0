// Package transport wires the relay's HTTP surface: health and metrics
// endpoints, the WebSocket upgrade that feeds a relay.Hub, and the
// admin-auth-gated stats endpoint.
package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsChannel adapts a *websocket.Conn to relay.Channel, serializing writes
// behind a mutex since gorilla/websocket forbids concurrent writers.
type wsChannel struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	conn.SetReadLimit(maxMessageSize)
	return &wsChannel{conn: conn}
}

func (c *wsChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsChannel) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(writeWait)
	_ = c.conn.SetWriteDeadline(deadline)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	return c.conn.Close()
}

func (c *wsChannel) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

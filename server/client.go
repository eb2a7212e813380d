package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dotside-studios/davi-nfc-session/protocol"
)

// Client is one connected WebSocket client.
type Client struct {
	id     string
	remote string
	conn   *websocket.Conn

	writeMu sync.Mutex

	mu         sync.Mutex
	subscribed bool
}

func newClient(id, remote string, conn *websocket.Conn) *Client {
	return &Client{id: id, remote: remote, conn: conn}
}

// ID returns the server-assigned client ID.
func (c *Client) ID() string {
	return c.id
}

func (c *Client) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

// setSubscribed updates the flag and reports whether it changed.
func (c *Client) setSubscribed(v bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed == v {
		return false
	}
	c.subscribed = v
	return true
}

func (c *Client) writeJSON(v any) error {
	if c.conn == nil {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// Send pushes a server-initiated message.
func (c *Client) Send(msgType string, payload any) error {
	return c.writeJSON(protocol.WebSocketMessage{Type: msgType, Payload: payload})
}

// Reply answers req successfully.
func (c *Client) Reply(req protocol.WebSocketRequest, payload any) error {
	return c.writeJSON(protocol.WebSocketResponse{
		ID:      req.ID,
		Type:    req.Type,
		Success: true,
		Payload: payload,
	})
}

// Fail answers req with an error.
func (c *Client) Fail(req protocol.WebSocketRequest, code, message string) error {
	return c.writeJSON(protocol.WebSocketResponse{
		ID:      req.ID,
		Type:    req.Type,
		Success: false,
		Error:   message,
		Code:    code,
	})
}

func (c *Client) close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

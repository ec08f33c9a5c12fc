package websocket

import (
	"context"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
)

// Client represents a single WebSocket connection watching one family.
type Client struct {
	hub      *Hub
	conn     *ws.Conn
	familyID string
	send     chan []byte
}

// NewClient creates a Client tied to the given hub and connection.
func NewClient(hub *Hub, conn *ws.Conn, familyID string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		familyID: familyID,
		send:     make(chan []byte, sendBufferSize),
	}
}

// Run subscribes the client to its family's notifications until the
// connection closes or ctx ends.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	c.hub.logger.Debug("client subscribed", "family_id", c.familyID, "clients", c.hub.ClientCount())
	defer func() {
		c.hub.Unregister(c)
		c.hub.logger.Debug("client unsubscribed", "family_id", c.familyID)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// readPump discards client frames; the feed is one-way. A close or read
// error ends the subscription.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			if status := ws.CloseStatus(err); status != ws.StatusNormalClosure && status != ws.StatusGoingAway && status != -1 {
				c.hub.logger.Debug("client closed", "family_id", c.familyID, "status", status)
			}
			return
		}
	}
}

// writePump forwards notifications and pings every pingInterval so dead
// peers are noticed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				// Hub closed the channel, connection is done
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

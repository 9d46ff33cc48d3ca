package ws

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBuffer     = 64
)

// Client is one live websocket session. It is created after the handshake
// credential has been verified; UID and credential are immutable for its
// lifetime. Ownership of the set of joined rooms lives in the Hub.
type Client struct {
	ID         string
	UID        string
	credential string

	conn *websocket.Conn
	send chan OutEnvelope
	done chan struct{}
}

func newClient(uid, credential string, conn *websocket.Conn) *Client {
	return &Client{
		ID:         uuid.NewString(),
		UID:        uid,
		credential: credential,
		conn:       conn,
		send:       make(chan OutEnvelope, sendBuffer),
		done:       make(chan struct{}),
	}
}

// trySend queues an envelope for delivery without blocking. A slow consumer
// whose buffer is full loses the frame; it can recover state via
// listConversations or a reconnect.
func (c *Client) trySend(env OutEnvelope) {
	select {
	case <-c.done:
	case c.send <- env:
	default:
	}
}

func (c *Client) close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// writeLoop drains the send queue onto the connection and keeps the
// connection alive with pings. It owns all writes to conn.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

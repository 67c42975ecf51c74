package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wellport/signaling/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. 64 KB is enough for SDP blobs.
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// Client is one live signaling connection. The relay addresses it by ID and
// writes to its buffered send channel; a dedicated write pump drains the
// channel onto the WebSocket.
type Client struct {
	ID string

	// roomID is the canonical room id the upgrade handler validated for
	// this connection. Clients may address the room by its short join
	// code; membership always uses this id.
	roomID string

	relay *Relay
	conn  *websocket.Conn
	send  chan []byte
	log   *zap.Logger

	closeOnce sync.Once
}

// NewClient wraps an upgraded WebSocket connection bound to roomID.
func NewClient(id, roomID string, conn *websocket.Conn, r *Relay) *Client {
	return &Client{
		ID:     id,
		roomID: roomID,
		relay:  r,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		log:    r.log.With(zap.String("connection_id", id)),
	}
}

// enqueue hands raw bytes to the write pump. A full buffer drops the frame;
// signaling is best-effort and the client side retries by re-initiating.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		c.log.Warn("send buffer full, dropping frame")
		return false
	}
}

// ReadPump pumps envelopes from the WebSocket connection into the relay.
// It is the only reader on the connection and unregisters the client when
// the connection closes.
func (c *Client) ReadPump() {
	defer func() {
		c.relay.Unregister(c)
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
				c.log.Warn("websocket read failed", zap.Error(err))
			}
			break
		}

		var env models.SignalEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.log.Warn("failed to parse envelope", zap.Error(err))
			continue
		}

		c.relay.HandleEnvelope(c, &env)
	}
}

// WritePump pumps frames from the send channel to the WebSocket connection
// and keeps the connection alive with periodic pings. It is the only writer
// on the connection.
func (c *Client) WritePump() {
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
				c.log.Warn("websocket write failed", zap.Error(err))
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

// closeSend closes the send channel exactly once, stopping the write pump.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

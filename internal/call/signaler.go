// Package call implements the client side of a relayed call: a signaling
// client speaking the relay's envelope protocol and a session state machine
// driving one peer connection from media acquisition to teardown.
package call

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wellport/signaling/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Signaler sends envelopes towards the relay. Session depends only on this.
type Signaler interface {
	Send(env *models.SignalEnvelope) error
}

// Subscriber registers envelope listeners with an explicit unsubscribe,
// so a session holds exactly one listener set for its lifetime.
type Subscriber interface {
	Subscribe(fn func(*models.SignalEnvelope)) (unsubscribe func())
}

// Client manages the WebSocket connection to the signaling relay.
type Client struct {
	serverURL string
	log       *zap.Logger

	conn     *websocket.Conn
	outgoing chan *models.SignalEnvelope
	done     chan struct{}

	mu      sync.Mutex
	subs    map[int]func(*models.SignalEnvelope)
	nextSub int
	closed  bool
}

// NewClient creates a signaling client for the given relay URL
// (e.g. ws://host:8080/ws/signal/ROOMCODE?userId=u1&displayName=Ann).
func NewClient(serverURL string, log *zap.Logger) *Client {
	return &Client{
		serverURL: serverURL,
		log:       log,
		outgoing:  make(chan *models.SignalEnvelope, 32),
		done:      make(chan struct{}),
		subs:      make(map[int]func(*models.SignalEnvelope)),
	}
}

// Connect establishes the WebSocket connection and starts the pumps.
func (c *Client) Connect() error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return nil
}

// Send queues an envelope for delivery to the relay.
func (c *Client) Send(env *models.SignalEnvelope) error {
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return fmt.Errorf("signaling client closed")
	}
}

// JoinRoom announces membership in a room to the relay.
func (c *Client) JoinRoom(roomID, userID, userName, role string) error {
	payload, err := json.Marshal(models.JoinRoomPayload{
		UserID:   userID,
		UserName: userName,
		Role:     role,
	})
	if err != nil {
		return err
	}
	return c.Send(&models.SignalEnvelope{
		Type:    models.EventJoinRoom,
		RoomID:  roomID,
		Payload: payload,
	})
}

// LeaveRoom leaves the current room without closing the connection.
func (c *Client) LeaveRoom() error {
	return c.Send(&models.SignalEnvelope{Type: models.EventLeaveRoom})
}

// Subscribe registers a listener for every inbound envelope. The returned
// function removes the listener; it is safe to call more than once.
func (c *Client) Subscribe(fn func(*models.SignalEnvelope)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var env models.SignalEnvelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}

		c.mu.Lock()
		listeners := make([]func(*models.SignalEnvelope), 0, len(c.subs))
		for _, fn := range c.subs {
			listeners = append(listeners, fn)
		}
		c.mu.Unlock()

		for _, fn := range listeners {
			fn(&env)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.Warn("signaling write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Close shuts the connection down and drops all subscribers.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.subs = make(map[int]func(*models.SignalEnvelope))
	c.mu.Unlock()

	close(c.done)
}

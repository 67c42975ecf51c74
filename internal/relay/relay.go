// Package relay forwards signaling envelopes between live connections. It
// owns the presence/room registry and never interprets envelope payloads:
// whatever bytes a sender attaches are what the target receives.
package relay

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/wellport/signaling/internal/models"
	"github.com/wellport/signaling/internal/registry"
)

// Mirror propagates room membership and user→connection bindings to an
// external store so other services can observe them. Implementations must
// be safe for concurrent use.
type Mirror interface {
	AddPeer(roomID, connectionID string)
	RemovePeer(roomID, connectionID string)
	RemoveUser(userID string)
}

// Relay routes envelopes between clients and maintains the registries.
type Relay struct {
	log    *zap.Logger
	reg    *registry.Registry
	mirror Mirror

	mu      sync.RWMutex
	clients map[string]*Client
}

// New creates a Relay around the given registry. mirror may be nil.
func New(reg *registry.Registry, mirror Mirror, log *zap.Logger) *Relay {
	return &Relay{
		log:     log,
		reg:     reg,
		mirror:  mirror,
		clients: make(map[string]*Client),
	}
}

// Registry exposes the relay's registry for read-only introspection
// (health, online-user listings).
func (r *Relay) Registry() *registry.Registry {
	return r.reg
}

// Register adds a freshly connected client to the relay and the presence
// registry.
func (r *Relay) Register(c *Client) {
	r.reg.Connect(c.ID)
	r.mu.Lock()
	r.clients[c.ID] = c
	r.mu.Unlock()
	r.log.Info("connection registered", zap.String("connection_id", c.ID))
}

// Unregister removes a client on disconnect, prunes its room membership and
// notifies the remaining members of the room it was in.
func (r *Relay) Unregister(c *Client) {
	r.mu.Lock()
	if _, ok := r.clients[c.ID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.clients, c.ID)
	r.mu.Unlock()

	entry, _ := r.reg.Lookup(c.ID)
	roomID, remaining := r.reg.Disconnect(c.ID)
	if r.mirror != nil && entry.UserID != "" {
		r.mirror.RemoveUser(entry.UserID)
	}
	if roomID != "" {
		if r.mirror != nil {
			r.mirror.RemovePeer(roomID, c.ID)
		}
		r.notify(remaining, models.EventUserDisconnected, roomID, models.PresencePayload{
			ConnectionID: c.ID,
			UserID:       entry.UserID,
			UserName:     entry.UserName,
		})
	}
	c.closeSend()
	r.log.Info("connection unregistered",
		zap.String("connection_id", c.ID),
		zap.String("room_id", roomID))
}

// HandleEnvelope processes one inbound envelope from a client. The sender
// identity is taken from the transport, never from the envelope.
func (r *Relay) HandleEnvelope(c *Client, env *models.SignalEnvelope) {
	env.From = c.ID

	switch env.Type {
	case models.EventJoinRoom:
		r.handleJoinRoom(c, env)
	case models.EventLeaveRoom:
		r.handleLeaveRoom(c)
	default:
		r.forward(c, env)
	}
}

func (r *Relay) handleJoinRoom(c *Client, env *models.SignalEnvelope) {
	// The upgrade handler binds the validated canonical room id to the
	// connection; the envelope may carry the short join code instead.
	roomID := c.roomID
	if roomID == "" {
		roomID = env.RoomID
	}
	if roomID == "" {
		r.sendError(c.ID, "join-room requires roomId")
		return
	}

	var join models.JoinRoomPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &join); err != nil {
			r.sendError(c.ID, "invalid join-room payload")
			return
		}
	}

	leftRoom, leftMembers, existing := r.reg.JoinRoom(c.ID, roomID, join.UserID, join.UserName, join.Role)

	// Joining a new room implies leaving the previous one.
	if leftRoom != "" {
		if r.mirror != nil {
			r.mirror.RemovePeer(leftRoom, c.ID)
		}
		r.notify(leftMembers, models.EventUserLeft, leftRoom, models.PresencePayload{
			ConnectionID: c.ID,
			UserID:       join.UserID,
			UserName:     join.UserName,
		})
	}
	if r.mirror != nil {
		r.mirror.AddPeer(roomID, c.ID)
	}

	users := make([]models.RoomUser, 0, len(existing))
	existingIDs := make([]string, 0, len(existing))
	for _, e := range existing {
		users = append(users, models.RoomUser{
			ConnectionID: e.ConnectionID,
			UserID:       e.UserID,
			UserName:     e.UserName,
		})
		existingIDs = append(existingIDs, e.ConnectionID)
	}
	r.sendEvent(c.ID, models.EventRoomUsers, roomID, models.RoomUsersPayload{
		RoomID: roomID,
		Users:  users,
	})

	r.notify(existingIDs, models.EventUserConnected, roomID, models.PresencePayload{
		ConnectionID: c.ID,
		UserID:       join.UserID,
		UserName:     join.UserName,
	})

	r.log.Info("joined room",
		zap.String("connection_id", c.ID),
		zap.String("room_id", roomID),
		zap.String("user_id", join.UserID),
		zap.Int("peers", len(existing)+1))
}

func (r *Relay) handleLeaveRoom(c *Client) {
	entry, _ := r.reg.Lookup(c.ID)
	roomID, remaining := r.reg.LeaveRoom(c.ID)
	if roomID == "" {
		return
	}
	if r.mirror != nil {
		r.mirror.RemovePeer(roomID, c.ID)
	}
	r.notify(remaining, models.EventUserLeft, roomID, models.PresencePayload{
		ConnectionID: c.ID,
		UserID:       entry.UserID,
		UserName:     entry.UserName,
	})
	r.log.Info("left room",
		zap.String("connection_id", c.ID),
		zap.String("room_id", roomID))
}

// forward delivers a signaling envelope to its target, or to every other
// member of the sender's room when no target is set. Unknown targets are
// dropped without an error back to the sender.
func (r *Relay) forward(c *Client, env *models.SignalEnvelope) {
	delivered, ok := models.DeliveredType(env.Type)
	if !ok {
		r.log.Warn("unknown envelope type",
			zap.String("connection_id", c.ID),
			zap.String("type", string(env.Type)))
		return
	}

	out := *env
	out.Type = delivered

	if env.To != "" {
		if !r.deliver(env.To, &out) {
			r.log.Debug("target offline, envelope dropped",
				zap.String("from", c.ID),
				zap.String("to", env.To),
				zap.String("type", string(env.Type)))
		}
		return
	}

	entry, ok := r.reg.Lookup(c.ID)
	if !ok || entry.RoomID == "" {
		r.log.Debug("no target and no room, envelope dropped",
			zap.String("from", c.ID),
			zap.String("type", string(env.Type)))
		return
	}
	for _, id := range r.reg.Members(entry.RoomID) {
		if id != c.ID {
			r.deliver(id, &out)
		}
	}
}

// deliver marshals the envelope and enqueues it on the target's send
// channel. Returns false when the target is not connected.
func (r *Relay) deliver(targetID string, env *models.SignalEnvelope) bool {
	r.mu.RLock()
	target, ok := r.clients[targetID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	data, err := json.Marshal(env)
	if err != nil {
		r.log.Error("failed to marshal envelope", zap.Error(err))
		return false
	}
	return target.enqueue(data)
}

func (r *Relay) sendEvent(targetID string, event models.EventType, roomID string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		r.log.Error("failed to marshal payload", zap.Error(err))
		return
	}
	r.deliver(targetID, &models.SignalEnvelope{
		Type:    event,
		RoomID:  roomID,
		Payload: raw,
	})
}

func (r *Relay) sendError(targetID, msg string) {
	r.deliver(targetID, &models.SignalEnvelope{
		Type:  models.EventError,
		Error: msg,
	})
}

func (r *Relay) notify(targets []string, event models.EventType, roomID string, payload models.PresencePayload) {
	for _, id := range targets {
		r.sendEvent(id, event, roomID, payload)
	}
}

// Package registry holds the in-memory presence and room state for the
// signaling relay. The registry is an owned object handed to the handlers
// that need it; there is no package-level state.
package registry

import (
	"sort"
	"sync"
	"time"
)

// Entry is the presence record for one live connection.
type Entry struct {
	ConnectionID string
	UserID       string
	UserName     string
	Role         string
	RoomID       string
	Online       bool
	ConnectedAt  time.Time
}

// Registry tracks which connections are online and which room each one is
// in. All methods are safe for concurrent use; a single RWMutex guards both
// maps so membership and presence never disagree.
type Registry struct {
	mu       sync.RWMutex
	presence map[string]*Entry
	rooms    map[string]map[string]struct{}
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		presence: make(map[string]*Entry),
		rooms:    make(map[string]map[string]struct{}),
	}
}

// Connect records a new connection with no room.
func (r *Registry) Connect(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence[connectionID] = &Entry{
		ConnectionID: connectionID,
		Online:       true,
		ConnectedAt:  time.Now(),
	}
}

// SetIdentity fills in participant metadata for a connection before it has
// joined a room, e.g. from connect-time query parameters.
func (r *Registry) SetIdentity(connectionID, userID, userName, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.presence[connectionID]
	if !ok {
		return
	}
	if userID != "" {
		entry.UserID = userID
	}
	if userName != "" {
		entry.UserName = userName
	}
	if role != "" {
		entry.Role = role
	}
}

// Disconnect removes the connection from presence and from its room, if
// any. It returns the room the connection was in and the ids of the members
// still there, so the caller can notify them.
func (r *Registry) Disconnect(connectionID string) (roomID string, remaining []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.presence[connectionID]
	if !ok {
		return "", nil
	}
	roomID = entry.RoomID
	delete(r.presence, connectionID)

	if roomID != "" {
		remaining = r.removeMemberLocked(roomID, connectionID)
	}
	return roomID, remaining
}

// JoinRoom puts the connection into a room, updating its presence metadata.
// A connection is in at most one room: if it was already in another room it
// is removed from that room first, and leftRoom/leftMembers report who to
// notify about the departure. The returned existing slice holds the members
// that were in the target room before this join, for the room-users reply.
func (r *Registry) JoinRoom(connectionID, roomID, userID, userName, role string) (leftRoom string, leftMembers []string, existing []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.presence[connectionID]
	if !ok {
		return "", nil, nil
	}

	if entry.RoomID != "" && entry.RoomID != roomID {
		leftRoom = entry.RoomID
		leftMembers = r.removeMemberLocked(leftRoom, connectionID)
	}

	entry.RoomID = roomID
	entry.UserID = userID
	entry.UserName = userName
	if role != "" {
		entry.Role = role
	}

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	for id := range members {
		if id == connectionID {
			continue
		}
		if e, ok := r.presence[id]; ok {
			existing = append(existing, *e)
		}
	}
	sort.Slice(existing, func(i, j int) bool {
		return existing[i].ConnectionID < existing[j].ConnectionID
	})
	members[connectionID] = struct{}{}

	return leftRoom, leftMembers, existing
}

// LeaveRoom removes the connection from its current room without touching
// presence. It returns the room left and the ids of the remaining members.
func (r *Registry) LeaveRoom(connectionID string) (roomID string, remaining []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.presence[connectionID]
	if !ok || entry.RoomID == "" {
		return "", nil
	}
	roomID = entry.RoomID
	entry.RoomID = ""
	remaining = r.removeMemberLocked(roomID, connectionID)
	return roomID, remaining
}

// removeMemberLocked drops connectionID from roomID's member set, deleting
// the set once empty, and returns the remaining member ids. Caller holds mu.
func (r *Registry) removeMemberLocked(roomID, connectionID string) []string {
	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
		return nil
	}
	remaining := make([]string, 0, len(members))
	for id := range members {
		remaining = append(remaining, id)
	}
	sort.Strings(remaining)
	return remaining
}

// Lookup returns the presence entry for a connection id.
func (r *Registry) Lookup(connectionID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.presence[connectionID]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Online reports whether the connection id is currently connected.
func (r *Registry) Online(connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.presence[connectionID]
	return ok
}

// Members returns the connection ids currently in a room, sorted.
func (r *Registry) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Counts returns the number of live connections and non-empty rooms.
func (r *Registry) Counts() (connections, rooms int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.presence), len(r.rooms)
}

// Snapshot returns a copy of every presence entry, sorted by connection id.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.presence))
	for _, e := range r.presence {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

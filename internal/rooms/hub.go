// Package rooms keeps per-conversation broadcast groups. A room exists while
// it has at least one member.
package rooms

import (
	"sort"
	"sync"
)

// Event is one outbound frame: {"event": Name, "data": Data}.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Member is a connection that can receive room events. Send must not block.
type Member interface {
	ID() string
	Send(Event)
}

type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Member
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]Member)}
}

// Join adds m to room and returns the members that were already there.
// Joining twice keeps a single membership.
func (h *Hub) Join(room string, m Member) []Member {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]Member)
		h.rooms[room] = members
		gaugeRooms.Inc()
	}
	others := make([]Member, 0, len(members))
	for id, other := range members {
		if id != m.ID() {
			others = append(others, other)
		}
	}
	if _, ok := members[m.ID()]; !ok {
		members[m.ID()] = m
		gaugeMembers.Inc()
	}
	return others
}

// Leave removes memberID from room and reports whether it was a member.
func (h *Hub) Leave(room, memberID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(room, memberID)
}

// LeaveAll removes memberID from every room in rooms.
func (h *Hub) LeaveAll(memberID string, rooms []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range rooms {
		h.leaveLocked(room, memberID)
	}
}

func (h *Hub) leaveLocked(room, memberID string) bool {
	members := h.rooms[room]
	if _, ok := members[memberID]; !ok {
		return false
	}
	delete(members, memberID)
	gaugeMembers.Dec()
	if len(members) == 0 {
		delete(h.rooms, room)
		gaugeRooms.Dec()
	}
	return true
}

func (h *Hub) IsMember(room, memberID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][memberID]
	return ok
}

// Members returns a snapshot of room's members ordered by id.
func (h *Hub) Members(room string) []Member {
	h.mu.RLock()
	out := make([]Member, 0, len(h.rooms[room]))
	for _, m := range h.rooms[room] {
		out = append(out, m)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Broadcast sends ev to every member of room except the member with id
// except (empty to include everyone) and returns the number of recipients.
func (h *Hub) Broadcast(room string, ev Event, except string) int {
	n := 0
	for _, m := range h.Members(room) {
		if m.ID() == except {
			continue
		}
		m.Send(ev)
		n++
	}
	return n
}

// Len returns the number of non-empty rooms.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

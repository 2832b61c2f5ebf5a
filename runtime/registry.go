// Package runtime hosts the coordination loop: session state, membership
// transitions, chat relay, and the query bridge. It orchestrates the system
// without containing storage or transport specifics.
package runtime

import (
	"agent-town/domain"
	"agent-town/errors"
	"sort"
	"sync"
	"time"
)

type Set map[string]struct{}

// Registry is the authoritative session state: per-agent current room,
// display name and last heartbeat, plus per-room membership sets.
// Rooms come from a fixed provisioned list and are never created or
// destroyed afterwards. The registry performs no I/O; every membership
// change in the process goes through AssignRoom or ClearRoom so that an
// agent can never appear in two rosters (or vanish from all of them
// mid-transition).
type Registry struct {
	mu          sync.RWMutex
	rooms       []domain.RoomID
	sessions    map[string]*domain.Session
	roomMembers map[domain.RoomID]Set
}

func NewRegistry(rooms []domain.RoomID) *Registry {
	members := make(map[domain.RoomID]Set, len(rooms))
	for _, r := range rooms {
		members[r] = make(Set)
	}
	return &Registry{
		rooms:       rooms,
		sessions:    make(map[string]*domain.Session),
		roomMembers: members,
	}
}

// session returns the tracked session for an agent, creating it on first
// sight. Callers must hold the write lock.
func (r *Registry) session(agentID string) *domain.Session {
	s, ok := r.sessions[agentID]
	if !ok {
		s = &domain.Session{AgentID: agentID}
		r.sessions[agentID] = s
	}
	return s
}

func (r *Registry) SetHeartbeat(agentID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session(agentID).LastSeen = now
}

// DropHeartbeat forgets the agent's last-seen time so a single timeout is
// reported only once per sweep cycle.
func (r *Registry) DropHeartbeat(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[agentID]; ok {
		s.LastSeen = time.Time{}
	}
}

func (r *Registry) SetUsername(agentID, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session(agentID).Username = &username
}

func (r *Registry) Username(agentID string) *string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[agentID]; ok {
		return s.Username
	}
	return nil
}

func (r *Registry) CurrentRoom(agentID string) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[agentID]
	if !ok || !s.InRoom() {
		return "", false
	}
	return s.Room, true
}

// MembersOf returns the roster of a room, sorted by agent id so that
// retained roster publishes are stable.
func (r *Registry) MembersOf(roomID domain.RoomID) []domain.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.roomMembers[roomID]
	if !ok {
		return nil
	}
	members := make([]domain.Member, 0, len(set))
	for agentID := range set {
		var username *string
		if s, ok := r.sessions[agentID]; ok {
			username = s.Username
		}
		members = append(members, domain.Member{AgentID: agentID, Username: username})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].AgentID < members[j].AgentID })
	return members
}

// AssignRoom moves an agent into roomID, removing it from its previous room
// first. The whole transition happens under one lock acquisition, so no
// reader can observe the agent in two rooms or in none. Returns the
// previous room ("" when unjoined) or ErrUnknownRoom for an unprovisioned
// room id, in which case nothing changes.
func (r *Registry) AssignRoom(agentID string, roomID domain.RoomID) (domain.RoomID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.roomMembers[roomID]
	if !ok {
		return "", errors.ErrUnknownRoom
	}

	s := r.session(agentID)
	prev := s.Room
	if prev != "" {
		delete(r.roomMembers[prev], agentID)
	}
	target[agentID] = struct{}{}
	s.Room = roomID
	return prev, nil
}

// ClearRoom removes an agent from its current room. The boolean is false
// when the agent was not in any room.
func (r *Registry) ClearRoom(agentID string) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[agentID]
	if !ok || !s.InRoom() {
		return "", false
	}
	prev := s.Room
	delete(r.roomMembers[prev], agentID)
	s.Room = ""
	return prev, true
}

// ExpiredAgents returns the agents whose last heartbeat is older than the
// timeout, as one consistent snapshot per sweep. Agents that never sent a
// heartbeat are not candidates: room membership alone does not imply
// liveness tracking.
func (r *Registry) ExpiredAgents(now time.Time, timeout time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var expired []string
	for agentID, s := range r.sessions {
		if !s.LastSeen.IsZero() && now.Sub(s.LastSeen) > timeout {
			expired = append(expired, agentID)
		}
	}
	sort.Strings(expired)
	return expired
}

// Counts returns member counts for every provisioned room, in provisioning
// order.
func (r *Registry) Counts() []domain.RoomCount {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make([]domain.RoomCount, 0, len(r.rooms))
	for _, roomID := range r.rooms {
		counts = append(counts, domain.RoomCount{ID: roomID, Count: len(r.roomMembers[roomID])})
	}
	return counts
}

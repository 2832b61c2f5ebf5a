package runtime

import (
	"agent-town/contract"
	"agent-town/domain"
	"agent-town/wire"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Coordinator applies join/leave/offline/timeout transitions to the
// registry and keeps the retained roster topics in sync. Every membership
// change, whatever its cause, flows through the same removal path so that
// subscribers cannot distinguish an eviction from an explicit leave by the
// resulting state alone.
type Coordinator struct {
	log       *slog.Logger
	registry  contract.IRegistry
	transport contract.Transport
	rooms     []domain.RoomID

	// mu serializes transitions: the retained roster publish must carry the
	// snapshot of the mutation that triggered it, never an older one.
	mu sync.Mutex
}

func NewCoordinator(log *slog.Logger, registry contract.IRegistry, transport contract.Transport, rooms []domain.RoomID) *Coordinator {
	return &Coordinator{log: log, registry: registry, transport: transport, rooms: rooms}
}

// Join moves an agent into a provisioned room, leaving its previous room in
// the same registry transition. Unknown room ids are logged and ignored;
// rapid duplicate joins are harmless because retained rosters are
// last-value-wins.
func (c *Coordinator) Join(agentID string, roomID domain.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, err := c.registry.AssignRoom(agentID, roomID)
	if err != nil {
		c.log.Warn("Join ignored", "agent", agentID, "room", roomID, "error", err)
		return
	}
	c.log.Info("Agent joined room", "agent", agentID, "room", roomID)

	c.publishMembers(roomID)
	if prev != "" && prev != roomID {
		c.publishMembers(prev)
	}
	c.publishSummary()
}

// Leave removes an agent from roomID only when that is its actual current
// room. A leave naming any other room is a stale or duplicate message from
// a reconnecting client and is ignored.
func (c *Coordinator) Leave(agentID string, roomID domain.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.registry.CurrentRoom(agentID)
	if !ok || current != roomID {
		c.log.Info("Leave ignored, agent not in room", "agent", agentID, "room", roomID, "current", string(current))
		return
	}
	c.log.Info("Agent left room", "agent", agentID, "room", roomID)
	c.remove(agentID)
}

// Disconnect handles an explicit offline status, including broker
// last-wills. It short-circuits the liveness timeout.
func (c *Coordinator) Disconnect(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Info("Agent offline", "agent", agentID)
	c.registry.DropHeartbeat(agentID)
	c.remove(agentID)
}

// Evict handles a liveness timeout detected by the sweep.
func (c *Coordinator) Evict(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Info("Agent heartbeat timed out", "agent", agentID)
	c.registry.DropHeartbeat(agentID)
	c.remove(agentID)
}

func (c *Coordinator) remove(agentID string) {
	prev, ok := c.registry.ClearRoom(agentID)
	if !ok {
		return
	}
	c.publishMembers(prev)
	c.publishSummary()
}

// PublishState republishes every retained roster and the global summary.
// Used at startup and after a broker reconnect; redundant republishes are
// safe on last-value-wins topics.
func (c *Coordinator) PublishState() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, roomID := range c.rooms {
		c.publishMembers(roomID)
	}
	c.publishSummary()
}

func (c *Coordinator) publishMembers(roomID domain.RoomID) {
	roster := wire.RoomMembers{
		RoomID: string(roomID),
		Members: lo.Map(c.registry.MembersOf(roomID), func(m domain.Member, _ int) wire.Member {
			return wire.Member{AgentID: m.AgentID, Username: m.Username}
		}),
		Ts: time.Now().UnixMilli(),
	}
	if roster.Members == nil {
		roster.Members = []wire.Member{}
	}
	payload, err := json.Marshal(roster)
	if err != nil {
		c.log.Error("Roster marshal failed", "room", roomID, "error", err)
		return
	}
	c.transport.Publish(wire.RoomMembersTopic(roomID), payload, true)
}

func (c *Coordinator) publishSummary() {
	state := wire.RoomsState{
		Rooms: lo.Map(c.registry.Counts(), func(rc domain.RoomCount, _ int) wire.RoomCount {
			return wire.RoomCount{ID: string(rc.ID), Count: rc.Count}
		}),
		Ts: time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(state)
	if err != nil {
		c.log.Error("Room summary marshal failed", "error", err)
		return
	}
	c.transport.Publish(wire.TopicRoomsState, payload, true)
}

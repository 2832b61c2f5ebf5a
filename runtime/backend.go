package runtime

import (
	"agent-town/contract"
	"agent-town/domain"
	"agent-town/wire"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/samber/lo"
)

// Backend is the single dispatch point of the coordination process. Every
// inbound transport message lands in Dispatch, which applies registry
// mutations synchronously and hands store-bound work to goroutines, so one
// slow or malformed message never blocks the next.
type Backend struct {
	log         *slog.Logger
	registry    contract.IRegistry
	coordinator *Coordinator
	relay       *Relay
	bridge      *Bridge
	transport   contract.Transport
	history     contract.IHistoryStore
	memories    contract.IMemoryStore
	rooms       []domain.RoomID
}

func NewBackend(log *slog.Logger, registry contract.IRegistry, coordinator *Coordinator,
	relay *Relay, bridge *Bridge, transport contract.Transport,
	history contract.IHistoryStore, memories contract.IMemoryStore, rooms []domain.RoomID) *Backend {
	return &Backend{
		log:         log,
		registry:    registry,
		coordinator: coordinator,
		relay:       relay,
		bridge:      bridge,
		transport:   transport,
		history:     history,
		memories:    memories,
		rooms:       rooms,
	}
}

// Start wires the dispatcher into the transport, announces the initial
// retained room state, and seeds the stores. Start is also safe to call
// again after a broker reconnect through the transport's on-connect hook.
func (b *Backend) Start() error {
	b.transport.SetHandler(b.Dispatch)
	if err := b.transport.Subscribe(wire.SubscriptionPatterns()...); err != nil {
		return err
	}
	b.coordinator.PublishState()
	go guard(b.log, "store seeding", b.seedStores)
	return nil
}

// guard runs a store-bound task with the same panic containment Dispatch
// applies to handlers. Goroutines spawned off the dispatch path must never
// be able to take the process down.
func guard(log *slog.Logger, task string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Async task panic recovered", "task", task, "panic", r)
		}
	}()
	fn()
}

// Dispatch routes one inbound message. Handler panics are contained here:
// a poisoned payload is logged and dropped, dispatch of subsequent
// messages continues.
func (b *Backend) Dispatch(topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Handler panic recovered", "topic", topic, "panic", r)
		}
	}()

	route := wire.ParseInbound(topic)
	switch route.Kind {
	case wire.KindJoin:
		b.handleJoin(route.RoomID, payload)
	case wire.KindLeave:
		b.handleLeave(route.RoomID, payload)
	case wire.KindStatus:
		b.handleStatus(route.AgentID, payload)
	case wire.KindHeartbeat:
		b.handleHeartbeat(route.AgentID, payload)
	case wire.KindChatIn:
		b.handleChat(route.RoomID, payload)
	case wire.KindRoomHistory:
		b.bridge.HandleRoomHistory(route.RoomID, payload)
	case wire.KindSenderHistory:
		b.bridge.HandleSenderHistory(payload)
	case wire.KindMemoryFind:
		b.bridge.HandleMemoryFind(route.AgentID, payload)
	default:
		b.log.Debug("Unroutable topic ignored", "topic", topic)
	}
}

func (b *Backend) handleJoin(roomID domain.RoomID, payload []byte) {
	var request wire.JoinLeave
	if err := json.Unmarshal(payload, &request); err != nil || request.AgentID == "" {
		b.log.Warn("Bad join payload", "room", roomID, "error", err)
		return
	}
	b.refreshUsername(request.AgentID, request.Username)
	b.coordinator.Join(request.AgentID, roomID)
	go guard(b.log, "identity upsert", func() {
		b.upsertIdentity(request.AgentID, request.Username, request.UserID)
	})
}

func (b *Backend) handleLeave(roomID domain.RoomID, payload []byte) {
	var request wire.JoinLeave
	if err := json.Unmarshal(payload, &request); err != nil || request.AgentID == "" {
		b.log.Warn("Bad leave payload", "room", roomID, "error", err)
		return
	}
	b.refreshUsername(request.AgentID, request.Username)
	b.coordinator.Leave(request.AgentID, roomID)
}

func (b *Backend) handleStatus(agentID string, payload []byte) {
	var presence wire.Presence
	if err := json.Unmarshal(payload, &presence); err != nil {
		b.log.Warn("Bad status payload", "agent", agentID, "error", err)
		return
	}
	b.refreshUsername(agentID, presence.Username)

	switch presence.Status {
	case wire.StatusOffline:
		b.coordinator.Disconnect(agentID)
	case wire.StatusOnline:
		b.registry.SetHeartbeat(agentID, time.Now())
		b.log.Info("Agent online", "agent", agentID)
		go guard(b.log, "identity upsert", func() {
			b.upsertIdentity(agentID, presence.Username, presence.UserID)
		})
	default:
		b.log.Warn("Bad status payload", "agent", agentID, "status", presence.Status)
	}
}

// handleHeartbeat marks the agent as seen regardless of the body: legacy
// clients publish a bare "1" instead of JSON.
func (b *Backend) handleHeartbeat(agentID string, payload []byte) {
	b.registry.SetHeartbeat(agentID, time.Now())

	var heartbeat wire.Heartbeat
	if err := json.Unmarshal(payload, &heartbeat); err == nil {
		b.refreshUsername(agentID, heartbeat.Username)
	}
}

func (b *Backend) handleChat(roomID domain.RoomID, payload []byte) {
	var in wire.ChatIn
	if err := json.Unmarshal(payload, &in); err != nil {
		b.log.Warn("Bad chat payload", "room", roomID, "error", err)
		return
	}
	if in.FromAgentID != "" {
		b.refreshUsername(in.FromAgentID, in.FromUsername)
	}
	b.relay.HandleChat(roomID, in)
}

// refreshUsername records the display name from any message that carries
// one; the last value seen wins.
func (b *Backend) refreshUsername(agentID string, username *string) {
	if username != nil && *username != "" {
		b.registry.SetUsername(agentID, *username)
	}
}

// upsertIdentity mirrors a newly seen participant into both stores.
// Best-effort: failures are logged and never affect coordination.
func (b *Backend) upsertIdentity(agentID string, username, userID *string) {
	name := lo.FromPtrOr(username, "")
	uid := lo.FromPtrOr(userID, "")
	if uid == "" {
		uid = lo.Ternary(name != "", name, "u_"+agentID)
	}
	if err := b.history.UpsertUser(uid, lo.Ternary(name != "", name, uid)); err != nil {
		b.log.Warn("User upsert failed", "user", uid, "error", err)
	}
	if err := b.history.UpsertAgent(agentID, uid); err != nil {
		b.log.Warn("Agent upsert failed", "agent", agentID, "error", err)
	}
	if err := b.memories.UpsertAgent(agentID); err != nil {
		b.log.Warn("Memory agent upsert failed", "agent", agentID, "error", err)
	}
}

// seedStores ensures every provisioned room exists in the history store
// and as a memory location.
func (b *Backend) seedStores() {
	for _, roomID := range b.rooms {
		if err := b.history.UpsertRoom(roomID); err != nil {
			b.log.Warn("Room seed failed", "room", roomID, "error", err)
		}
		if err := b.memories.UpsertLocation(roomID); err != nil {
			b.log.Warn("Location seed failed", "room", roomID, "error", err)
		}
	}
	b.log.Info("Stores seeded", "rooms", len(b.rooms))
}

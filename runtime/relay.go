package runtime

import (
	"agent-town/contract"
	"agent-town/domain"
	"agent-town/errors"
	"agent-town/moderation"
	"agent-town/wire"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/samber/lo"
)

// Relay validates and republishes chat. Membership is checked against the
// registry at receipt time; this is the single point where an agent
// claiming a room it is not in gets blocked, so the check is
// security-relevant and must stay on the synchronous path. Persistence and
// memory writes happen afterwards in their own goroutine and can never
// delay the relay publish.
type Relay struct {
	log          *slog.Logger
	registry     contract.IRegistry
	transport    contract.Transport
	history      contract.IHistoryStore
	memories     contract.IMemoryStore
	moderator    *moderation.Moderator
	privateRooms map[domain.RoomID]struct{}
}

func NewRelay(log *slog.Logger, registry contract.IRegistry, transport contract.Transport,
	history contract.IHistoryStore, memories contract.IMemoryStore,
	moderator *moderation.Moderator, privateRooms []domain.RoomID) *Relay {
	return &Relay{
		log:       log,
		registry:  registry,
		transport: transport,
		history:   history,
		memories:  memories,
		moderator: moderator,
		privateRooms: lo.SliceToMap(privateRooms, func(r domain.RoomID) (domain.RoomID, struct{}) {
			return r, struct{}{}
		}),
	}
}

// HandleChat processes one inbound submission to rooms/<roomId>/chat/in.
func (r *Relay) HandleChat(roomID domain.RoomID, in wire.ChatIn) {
	if err := r.authorize(roomID, in); err != nil {
		r.log.Warn("Chat rejected", "agent", in.FromAgentID, "room", roomID, "error", err)
		return
	}

	now := time.Now().UnixMilli()
	text := *in.Msg
	if r.moderator != nil {
		text = r.moderator.Censor(text)
	}

	out := wire.ChatOut{
		RoomID:       string(roomID),
		FromAgentID:  in.FromAgentID,
		FromUsername: r.registry.Username(in.FromAgentID),
		Type:         lo.Ternary(in.Type != "", in.Type, "text"),
		Msg:          text,
		Ts:           lo.FromPtrOr(in.Ts, now),
		ID:           lo.FromPtrOr(in.ID, fmt.Sprintf("%s-%d", in.FromAgentID, now)),
		ServerTs:     now,
	}
	if out.FromUsername == nil {
		out.FromUsername = in.FromUsername
	}

	payload, err := json.Marshal(out)
	if err != nil {
		r.log.Error("Chat envelope marshal failed", "error", err)
		return
	}
	r.transport.Publish(wire.ChatOutTopic(roomID), payload, false)

	// Snapshot the audience before leaving the synchronous path so the
	// memory record reflects who was in the room at relay time.
	audience := lo.FilterMap(r.registry.MembersOf(roomID), func(m domain.Member, _ int) (string, bool) {
		return m.AgentID, m.AgentID != in.FromAgentID
	})
	go guard(r.log, "chat persistence", func() {
		r.persist(roomID, in, out, audience)
	})
}

// authorize gates relay on the registry's view of membership: the claimed
// room must be the sender's current room at receipt time.
func (r *Relay) authorize(roomID domain.RoomID, in wire.ChatIn) error {
	if in.FromAgentID == "" || in.Msg == nil {
		return errors.ErrMissingSender
	}
	current, ok := r.registry.CurrentRoom(in.FromAgentID)
	if !ok || current != roomID {
		return errors.ErrNotInRoom
	}
	return nil
}

// persist records the relayed message in the history store and, outside
// private rooms, as a semantic memory. Both writes are best-effort: a store
// failure is logged and never reaches the chat path.
func (r *Relay) persist(roomID domain.RoomID, in wire.ChatIn, out wire.ChatOut, audience []string) {
	r.upsertSender(in, out)

	sentAt := time.UnixMilli(out.Ts).UTC()
	message := domain.Message{
		ID:       out.ID,
		RoomID:   roomID,
		SenderID: out.FromAgentID,
		Text:     out.Msg,
		Lang:     whatlanggo.Detect(out.Msg).Lang.Iso6391(),
		SentAt:   sentAt,
	}
	if err := r.history.StoreMessage(message); err != nil {
		r.log.Error("Message persistence failed", "room", roomID, "agent", out.FromAgentID, "error", err)
	}

	if _, private := r.privateRooms[roomID]; private {
		r.log.Debug("Skipping memory write for private room", "room", roomID)
		return
	}
	memory := domain.Memory{
		ID:        out.ID,
		Text:      out.Msg,
		SpeakerID: out.FromAgentID,
		RoomID:    roomID,
		MsgType:   out.Type,
		Audience:  audience,
		At:        sentAt,
	}
	if err := r.memories.SaveMemory(memory); err != nil {
		r.log.Error("Memory write failed", "room", roomID, "agent", out.FromAgentID, "error", err)
	}
}

func (r *Relay) upsertSender(in wire.ChatIn, out wire.ChatOut) {
	username := lo.FromPtrOr(out.FromUsername, "")
	userID := lo.FromPtrOr(in.FromUserID, "")
	if userID == "" {
		userID = lo.Ternary(username != "", username, "u_"+out.FromAgentID)
	}
	if err := r.history.UpsertUser(userID, lo.Ternary(username != "", username, userID)); err != nil {
		r.log.Warn("User upsert failed", "user", userID, "error", err)
	}
	if err := r.history.UpsertAgent(out.FromAgentID, userID); err != nil {
		r.log.Warn("Agent upsert failed", "agent", out.FromAgentID, "error", err)
	}
	if err := r.memories.UpsertAgent(out.FromAgentID); err != nil {
		r.log.Warn("Memory agent upsert failed", "agent", out.FromAgentID, "error", err)
	}
}

package runtime

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"agent-town/domain"
	"agent-town/moderation"
	"agent-town/transport"
	"agent-town/wire"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func newTestRelay(t *testing.T) (*Relay, *Registry, *transport.InMemory, *fakeHistory, *fakeMemories) {
	t.Helper()
	bus := transport.NewInMemory()
	registry := NewRegistry(testRooms)
	history := &fakeHistory{}
	memories := &fakeMemories{}
	moderator, err := moderation.NewModerator([]string{"idiot"}, '*')
	require.NoError(t, err)
	relay := NewRelay(slog.Default(), registry, bus, history, memories, &moderator, []domain.RoomID{"park"})
	return relay, registry, bus, history, memories
}

func decodeChatOut(t *testing.T, bus *transport.InMemory, roomID domain.RoomID) []wire.ChatOut {
	t.Helper()
	return lo.Map(bus.Messages(wire.ChatOutTopic(roomID)), func(p transport.Published, _ int) wire.ChatOut {
		var out wire.ChatOut
		require.NoError(t, json.Unmarshal(p.Payload, &out))
		return out
	})
}

func Test_Chat_From_Member_Is_Relayed_With_Server_Envelope(t *testing.T) {
	req := require.New(t)
	relay, registry, bus, history, memories := newTestRelay(t)
	_, err := registry.AssignRoom("alice", "library")
	req.NoError(err)
	registry.SetUsername("alice", "Alice L")

	relay.HandleChat("library", wire.ChatIn{
		FromAgentID: "alice",
		Msg:         lo.ToPtr("anyone seen my book?"),
	})

	relayed := decodeChatOut(t, bus, "library")
	req.Len(relayed, 1)
	out := relayed[0]
	req.Equal("library", out.RoomID)
	req.Equal("alice", out.FromAgentID)
	req.Equal("Alice L", lo.FromPtr(out.FromUsername))
	req.Equal("text", out.Type)
	req.Equal("anyone seen my book?", out.Msg)
	req.NotEmpty(out.ID)
	req.Positive(out.ServerTs)

	// Persistence follows asynchronously
	req.Eventually(func() bool { return len(history.stored()) == 1 }, time.Second, 10*time.Millisecond)
	stored := history.stored()[0]
	req.Equal("anyone seen my book?", stored.Text)
	req.NotEmpty(stored.Lang)

	req.Eventually(func() bool { return len(memories.memories()) == 1 }, time.Second, 10*time.Millisecond)
}

func Test_Chat_To_Undeclared_Room_Is_Dropped(t *testing.T) {
	req := require.New(t)
	relay, registry, bus, history, _ := newTestRelay(t)
	_, err := registry.AssignRoom("alice", "library")
	req.NoError(err)

	// Claiming the cafe while registered in the library
	relay.HandleChat("cafe", wire.ChatIn{
		FromAgentID: "alice",
		Msg:         lo.ToPtr("hello cafe"),
	})

	req.Empty(bus.Messages(wire.ChatOutTopic("cafe")))
	req.Empty(history.stored())
}

func Test_Chat_From_Unknown_Agent_Is_Dropped(t *testing.T) {
	req := require.New(t)
	relay, _, bus, _, _ := newTestRelay(t)

	relay.HandleChat("library", wire.ChatIn{
		FromAgentID: "ghost",
		Msg:         lo.ToPtr("boo"),
	})
	relay.HandleChat("library", wire.ChatIn{Msg: lo.ToPtr("no sender")})
	relay.HandleChat("library", wire.ChatIn{FromAgentID: "ghost"})

	req.Empty(bus.Messages(wire.ChatOutTopic("library")))
}

func Test_Chat_Preserves_Client_Id_And_Timestamp(t *testing.T) {
	req := require.New(t)
	relay, registry, bus, _, _ := newTestRelay(t)
	_, err := registry.AssignRoom("alice", "library")
	req.NoError(err)

	relay.HandleChat("library", wire.ChatIn{
		FromAgentID: "alice",
		Msg:         lo.ToPtr("hello"),
		ID:          lo.ToPtr("client-id-7"),
		Ts:          lo.ToPtr(int64(1700000000000)),
		Type:        "emote",
	})

	out := decodeChatOut(t, bus, "library")[0]
	req.Equal("client-id-7", out.ID)
	req.Equal(int64(1700000000000), out.Ts)
	req.Equal("emote", out.Type)
	req.GreaterOrEqual(out.ServerTs, out.Ts)
}

func Test_Chat_Is_Censored_Before_Relay_And_Storage(t *testing.T) {
	req := require.New(t)
	relay, registry, bus, history, _ := newTestRelay(t)
	_, err := registry.AssignRoom("alice", "library")
	req.NoError(err)

	relay.HandleChat("library", wire.ChatIn{
		FromAgentID: "alice",
		Msg:         lo.ToPtr("you idiot"),
	})

	out := decodeChatOut(t, bus, "library")[0]
	req.Equal("you *****", out.Msg)

	req.Eventually(func() bool { return len(history.stored()) == 1 }, time.Second, 10*time.Millisecond)
	req.Equal("you *****", history.stored()[0].Text)
}

func Test_Private_Room_Chat_Skips_Memory_Writes(t *testing.T) {
	req := require.New(t)
	relay, registry, _, history, memories := newTestRelay(t)
	_, err := registry.AssignRoom("alice", "park")
	req.NoError(err)

	relay.HandleChat("park", wire.ChatIn{
		FromAgentID: "alice",
		Msg:         lo.ToPtr("just between us"),
	})

	// History still records the message, memory does not
	req.Eventually(func() bool { return len(history.stored()) == 1 }, time.Second, 10*time.Millisecond)
	req.Empty(memories.memories())
}

func Test_Memory_Audience_Is_The_Room_Minus_The_Speaker(t *testing.T) {
	req := require.New(t)
	relay, registry, _, _, memories := newTestRelay(t)
	for _, agent := range []string{"alice", "bob", "clara"} {
		_, err := registry.AssignRoom(agent, "cafe")
		req.NoError(err)
	}

	relay.HandleChat("cafe", wire.ChatIn{
		FromAgentID: "bob",
		Msg:         lo.ToPtr("coffee is on me"),
	})

	req.Eventually(func() bool { return len(memories.memories()) == 1 }, time.Second, 10*time.Millisecond)
	memory := memories.memories()[0]
	req.Equal("bob", memory.SpeakerID)
	req.ElementsMatch([]string{"alice", "clara"}, memory.Audience)
}

// panickyHistory blows up on every write, simulating a store bug rather
// than a returned error.
type panickyHistory struct {
	fakeHistory
	calls chan struct{}
}

func (p *panickyHistory) StoreMessage(domain.Message) error {
	p.calls <- struct{}{}
	panic("index closed")
}

func Test_Persistence_Panic_Never_Reaches_The_Chat_Path(t *testing.T) {
	req := require.New(t)
	bus := transport.NewInMemory()
	registry := NewRegistry(testRooms)
	history := &panickyHistory{calls: make(chan struct{}, 2)}
	relay := NewRelay(slog.Default(), registry, bus, history, &fakeMemories{}, nil, nil)
	_, err := registry.AssignRoom("alice", "library")
	req.NoError(err)

	// Two chats, each triggering a panicking store write
	for _, text := range []string{"first", "second"} {
		relay.HandleChat("library", wire.ChatIn{FromAgentID: "alice", Msg: lo.ToPtr(text)})
		select {
		case <-history.calls:
		case <-time.After(time.Second):
			t.Fatal("store write never attempted")
		}
	}

	// Both were relayed regardless
	req.Len(decodeChatOut(t, bus, "library"), 2)
}

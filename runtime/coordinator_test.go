package runtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"agent-town/domain"
	"agent-town/transport"
	"agent-town/wire"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func decodeRoster(t *testing.T, bus *transport.InMemory, roomID domain.RoomID) wire.RoomMembers {
	t.Helper()
	payload, ok := bus.Retained(wire.RoomMembersTopic(roomID))
	require.True(t, ok, "no retained roster for %s", roomID)
	var roster wire.RoomMembers
	require.NoError(t, json.Unmarshal(payload, &roster))
	return roster
}

func decodeSummary(t *testing.T, bus *transport.InMemory) wire.RoomsState {
	t.Helper()
	payload, ok := bus.Retained(wire.TopicRoomsState)
	require.True(t, ok, "no retained room summary")
	var state wire.RoomsState
	require.NoError(t, json.Unmarshal(payload, &state))
	return state
}

func Test_Join_Publishes_Roster_And_Summary(t *testing.T) {
	req := require.New(t)
	bus := transport.NewInMemory()
	coordinator := NewCoordinator(slog.Default(), NewRegistry(testRooms), bus, testRooms)

	// When an agent joins the library
	coordinator.Join("alice", "library")

	// Then the retained roster and summary reflect it
	roster := decodeRoster(t, bus, "library")
	req.Equal("library", roster.RoomID)
	req.Len(roster.Members, 1)
	req.Equal("alice", roster.Members[0].AgentID)

	summary := decodeSummary(t, bus)
	counts := lo.SliceToMap(summary.Rooms, func(rc wire.RoomCount) (string, int) { return rc.ID, rc.Count })
	req.Equal(map[string]int{"library": 1, "cafe": 0, "park": 0}, counts)
}

func Test_Join_Moves_Agent_And_Updates_Both_Rosters(t *testing.T) {
	req := require.New(t)
	bus := transport.NewInMemory()
	coordinator := NewCoordinator(slog.Default(), NewRegistry(testRooms), bus, testRooms)

	coordinator.Join("alice", "library")
	coordinator.Join("alice", "cafe")

	req.Empty(decodeRoster(t, bus, "library").Members)
	cafe := decodeRoster(t, bus, "cafe")
	req.Len(cafe.Members, 1)
	req.Equal("alice", cafe.Members[0].AgentID)
}

func Test_Join_Unknown_Room_Publishes_Nothing(t *testing.T) {
	req := require.New(t)
	bus := transport.NewInMemory()
	coordinator := NewCoordinator(slog.Default(), NewRegistry(testRooms), bus, testRooms)

	coordinator.Join("alice", "volcano")

	_, ok := bus.Retained(wire.TopicRoomsState)
	req.False(ok)
}

func Test_Leave_Only_Applies_To_Current_Room(t *testing.T) {
	req := require.New(t)
	bus := transport.NewInMemory()
	coordinator := NewCoordinator(slog.Default(), NewRegistry(testRooms), bus, testRooms)

	coordinator.Join("alice", "library")

	// A stale leave naming another room is ignored
	before := len(bus.Messages(wire.TopicRoomsState))
	coordinator.Leave("alice", "cafe")
	req.Len(decodeRoster(t, bus, "library").Members, 1)
	req.Len(bus.Messages(wire.TopicRoomsState), before)

	// The matching leave empties the roster
	coordinator.Leave("alice", "library")
	req.Empty(decodeRoster(t, bus, "library").Members)
}

func Test_Leave_Offline_And_Eviction_Converge_On_The_Same_State(t *testing.T) {
	req := require.New(t)

	depart := map[string]func(c *Coordinator){
		"leave":   func(c *Coordinator) { c.Leave("alice", "park") },
		"offline": func(c *Coordinator) { c.Disconnect("alice") },
		"evict":   func(c *Coordinator) { c.Evict("alice") },
	}

	for name, leave := range depart {
		bus := transport.NewInMemory()
		coordinator := NewCoordinator(slog.Default(), NewRegistry(testRooms), bus, testRooms)
		coordinator.Join("alice", "park")

		leave(coordinator)

		req.Empty(decodeRoster(t, bus, "park").Members, "case %s", name)
		summary := decodeSummary(t, bus)
		for _, rc := range summary.Rooms {
			req.Zero(rc.Count, "case %s room %s", name, rc.ID)
		}
	}
}

func Test_PublishState_Announces_Every_Provisioned_Room(t *testing.T) {
	req := require.New(t)
	bus := transport.NewInMemory()
	coordinator := NewCoordinator(slog.Default(), NewRegistry(testRooms), bus, testRooms)

	coordinator.PublishState()

	for _, roomID := range testRooms {
		roster := decodeRoster(t, bus, roomID)
		req.Equal(string(roomID), roster.RoomID)
		req.NotNil(roster.Members)
		req.Empty(roster.Members)
	}
	req.Len(decodeSummary(t, bus).Rooms, len(testRooms))
}

func Test_Roster_Includes_Usernames(t *testing.T) {
	req := require.New(t)
	bus := transport.NewInMemory()
	registry := NewRegistry(testRooms)
	coordinator := NewCoordinator(slog.Default(), registry, bus, testRooms)

	registry.SetUsername("alice", "Alice L")
	coordinator.Join("alice", "cafe")

	roster := decodeRoster(t, bus, "cafe")
	req.Equal("Alice L", lo.FromPtr(roster.Members[0].Username))
}

func Test_Concurrent_Joins_Leave_No_Stale_Roster_Behind(t *testing.T) {
	req := require.New(t)
	bus := transport.NewInMemory()
	coordinator := NewCoordinator(slog.Default(), NewRegistry(testRooms), bus, testRooms)

	// Eight agents join the same room from separate goroutines
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			coordinator.Join(fmt.Sprintf("agent_%d", n), "library")
		}(i)
	}
	wg.Wait()

	// The retained roster is the one from the last transition, so it must
	// name every agent
	roster := decodeRoster(t, bus, "library")
	req.Len(roster.Members, 8)

	summary := decodeSummary(t, bus)
	counts := lo.SliceToMap(summary.Rooms, func(rc wire.RoomCount) (string, int) { return rc.ID, rc.Count })
	req.Equal(8, counts["library"])
}

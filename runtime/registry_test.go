package runtime

import (
	"agent-town/domain"
	"agent-town/errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testRooms = []domain.RoomID{"library", "cafe", "park"}

func TestRegistry_AssignRoom_FirstJoin(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testRooms)

	// Given an unjoined agent
	_, inRoom := registry.CurrentRoom("rhino")
	req.False(inRoom)

	// When it joins a provisioned room
	prev, err := registry.AssignRoom("rhino", "library")
	req.NoError(err)
	req.Equal(domain.RoomID(""), prev)

	// Then the session and the roster agree
	room, inRoom := registry.CurrentRoom("rhino")
	req.True(inRoom)
	req.Equal(domain.RoomID("library"), room)
	req.Len(registry.MembersOf("library"), 1)
}

func TestRegistry_AssignRoom_MovesBetweenRooms(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testRooms)

	_, err := registry.AssignRoom("rhino", "library")
	req.NoError(err)

	// When the agent joins another room
	prev, err := registry.AssignRoom("rhino", "cafe")
	req.NoError(err)
	req.Equal(domain.RoomID("library"), prev)

	// Then it left the previous roster atomically
	req.Empty(registry.MembersOf("library"))
	req.Len(registry.MembersOf("cafe"), 1)
}

func TestRegistry_AssignRoom_UnknownRoomIsRejected(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testRooms)

	_, err := registry.AssignRoom("rhino", "library")
	req.NoError(err)

	// When the agent tries to join an unprovisioned room
	_, err = registry.AssignRoom("rhino", "volcano")
	req.ErrorIs(err, errors.ErrUnknownRoom)

	// Then nothing changed
	room, inRoom := registry.CurrentRoom("rhino")
	req.True(inRoom)
	req.Equal(domain.RoomID("library"), room)
}

func TestRegistry_ClearRoom(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testRooms)

	_, err := registry.AssignRoom("rhino", "library")
	req.NoError(err)

	prev, ok := registry.ClearRoom("rhino")
	req.True(ok)
	req.Equal(domain.RoomID("library"), prev)
	req.Empty(registry.MembersOf("library"))

	// Clearing an unjoined agent is a no-op
	_, ok = registry.ClearRoom("rhino")
	req.False(ok)
}

func TestRegistry_MembersOf_CarriesUsernames(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testRooms)

	registry.SetUsername("rhino", "Rhino")
	_, err := registry.AssignRoom("rhino", "library")
	req.NoError(err)
	_, err = registry.AssignRoom("moose", "library")
	req.NoError(err)

	members := registry.MembersOf("library")
	req.Len(members, 2)
	// Sorted by agent id
	req.Equal("moose", members[0].AgentID)
	req.Nil(members[0].Username)
	req.Equal("rhino", members[1].AgentID)
	req.NotNil(members[1].Username)
	req.Equal("Rhino", *members[1].Username)
}

func TestRegistry_ExpiredAgents(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testRooms)
	now := time.Now()

	registry.SetHeartbeat("rhino", now.Add(-30*time.Second))
	registry.SetHeartbeat("moose", now.Add(-5*time.Second))
	// cat joined but never sent a heartbeat: not a timeout candidate
	_, err := registry.AssignRoom("cat", "cafe")
	req.NoError(err)

	req.Equal([]string{"rhino"}, registry.ExpiredAgents(now, 20*time.Second))

	// Once dropped, the same timeout is not reported again
	registry.DropHeartbeat("rhino")
	req.Empty(registry.ExpiredAgents(now, 20*time.Second))
}

func TestRegistry_Counts_FollowProvisioningOrder(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testRooms)

	_, err := registry.AssignRoom("rhino", "cafe")
	req.NoError(err)

	counts := registry.Counts()
	req.Equal([]domain.RoomCount{
		{ID: "library", Count: 0},
		{ID: "cafe", Count: 1},
		{ID: "park", Count: 0},
	}, counts)
}

// An agent must appear in at most one roster no matter how join/leave
// sequences interleave.
func TestRegistry_SingleRoomInvariant_RandomSequences(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testRooms)
	rng := rand.New(rand.NewSource(42))
	agents := []string{"rhino", "moose", "raccoon", "cat"}

	for i := 0; i < 2000; i++ {
		agent := agents[rng.Intn(len(agents))]
		switch rng.Intn(3) {
		case 0:
			_, err := registry.AssignRoom(agent, testRooms[rng.Intn(len(testRooms))])
			req.NoError(err)
		case 1:
			registry.ClearRoom(agent)
		case 2:
			// Unknown rooms never mutate state
			_, err := registry.AssignRoom(agent, "volcano")
			req.ErrorIs(err, errors.ErrUnknownRoom)
		}

		for _, agent := range agents {
			appearances := 0
			for _, room := range testRooms {
				for _, m := range registry.MembersOf(room) {
					if m.AgentID == agent {
						appearances++
					}
				}
			}
			req.LessOrEqual(appearances, 1)

			room, inRoom := registry.CurrentRoom(agent)
			if inRoom {
				req.Equal(1, appearances, "agent %s tracked in %s but absent from rosters", agent, room)
			} else {
				req.Zero(appearances)
			}
		}
	}
}

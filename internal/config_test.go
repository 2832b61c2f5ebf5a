package internal

import (
	"testing"

	"agent-town/domain"

	"github.com/stretchr/testify/require"
)

func Test_RoomIDs_Parses_And_Preserves_Order(t *testing.T) {
	req := require.New(t)
	config := Config{Rooms: "library, cafe ,park,,sports-court"}

	req.Equal([]domain.RoomID{"library", "cafe", "park", "sports-court"}, config.RoomIDs())
}

func Test_PrivateRoomIDs_Empty_When_Unset(t *testing.T) {
	req := require.New(t)
	req.Empty(Config{}.PrivateRoomIDs())
	req.Equal([]domain.RoomID{"private-room"}, Config{PrivateRooms: "private-room"}.PrivateRoomIDs())
}

func Test_CharacterRune_Rejects_Multiple_Characters(t *testing.T) {
	req := require.New(t)

	r, err := Config{CharReplacement: "*"}.CharacterRune()
	req.NoError(err)
	req.Equal('*', r)

	_, err = Config{CharReplacement: "**"}.CharacterRune()
	req.Error(err)
	_, err = Config{CharReplacement: ""}.CharacterRune()
	req.Error(err)
}

package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInMemory_RetainedReplayOnSubscribe(t *testing.T) {
	req := require.New(t)
	broker := NewInMemory()

	// Given a retained value published before anyone subscribed
	broker.Publish("rooms/state", []byte(`{"rooms":[]}`), true)

	var got []string
	broker.SetHandler(func(topic string, payload []byte) {
		got = append(got, topic)
	})

	// When a late subscriber arrives
	err := broker.Subscribe("rooms/state")
	req.NoError(err)

	// Then the last value is replayed immediately
	req.Equal([]string{"rooms/state"}, got)

	payload, ok := broker.Retained("rooms/state")
	req.True(ok)
	req.JSONEq(`{"rooms":[]}`, string(payload))
}

func TestInMemory_WildcardDelivery(t *testing.T) {
	req := require.New(t)
	broker := NewInMemory()

	var got []string
	broker.SetHandler(func(topic string, payload []byte) {
		got = append(got, topic)
	})
	req.NoError(broker.Subscribe("rooms/+/join"))

	broker.Publish("rooms/library/join", []byte(`{}`), false)
	broker.Publish("rooms/library/leave", []byte(`{}`), false)

	req.Equal([]string{"rooms/library/join"}, got)
	req.Len(broker.Messages("rooms/library/leave"), 1)
}

func TestInMemory_RetainIsLastValueWins(t *testing.T) {
	req := require.New(t)
	broker := NewInMemory()

	broker.Publish("backend/status", []byte(`1`), true)
	broker.Publish("backend/status", []byte(`2`), true)

	payload, ok := broker.Retained("backend/status")
	req.True(ok)
	req.Equal("2", string(payload))
}

package internal

import (
	"fmt"
	"strings"
	"time"

	"agent-town/domain"

	"github.com/samber/lo"
)

type Config struct {
	BrokerURL         string        `env:"MQTT_URL,required=true"`
	ClientID          string        `env:"MQTT_CLIENT_ID,required=true"`
	Rooms             string        `env:"ROOMS,required=true"`
	PrivateRooms      string        `env:"PRIVATE_ROOMS"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT,required=true"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL,required=true"`
	TelemetryInterval time.Duration `env:"TELEMETRY_INTERVAL,required=true"`
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath     string        `env:"BLUGE_FILEPATH,required=true"`
	VectorSize        int           `env:"VECTOR_SIZE,required=true"`
	MemoryLimit       int           `env:"MEMORY_LIMIT,required=true"`
	ForbiddenWords    string        `env:"FORBIDDEN_WORDS"`
	CharReplacement   string        `env:"CHARACTER_REPLACEMENT,required=true"`
	LogLevel          string        `env:"LOG_LEVEL,required=true"`
}

// RoomIDs parses the comma-separated ROOMS list, preserving order.
func (c Config) RoomIDs() []domain.RoomID {
	return lo.FilterMap(strings.Split(c.Rooms, ","), func(s string, _ int) (domain.RoomID, bool) {
		trimmed := strings.TrimSpace(s)
		return domain.RoomID(trimmed), trimmed != ""
	})
}

func (c Config) PrivateRoomIDs() []domain.RoomID {
	return lo.FilterMap(strings.Split(c.PrivateRooms, ","), func(s string, _ int) (domain.RoomID, bool) {
		trimmed := strings.TrimSpace(s)
		return domain.RoomID(trimmed), trimmed != ""
	})
}

func (c Config) ForbiddenWordList() []string {
	return lo.FilterMap(strings.Split(c.ForbiddenWords, ","), func(s string, _ int) (string, bool) {
		trimmed := strings.TrimSpace(s)
		return trimmed, trimmed != ""
	})
}

func (c Config) CharacterRune() (rune, error) {
	r := []rune(c.CharReplacement)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			c.CharReplacement,
		)
	}
	return r[0], nil
}

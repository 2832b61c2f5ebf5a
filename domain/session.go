package domain

import "time"

// Session is the tracked state of one agent. An agent is in at most one
// room at any instant; Room is empty while unjoined. Sessions are created
// on the first message observed from an agent and live until the process
// restarts.
type Session struct {
	AgentID  string
	Username *string
	Room     RoomID
	LastSeen time.Time
}

func (s Session) InRoom() bool {
	return s.Room != ""
}

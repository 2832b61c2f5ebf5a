package domain

import "time"

// Message is a chat message as recorded in the history store.
type Message struct {
	ID           string
	RoomID       RoomID
	SenderID     string
	SenderIsUser bool
	Text         string
	Lang         string
	SentAt       time.Time
}

// Memory is a semantic record of something an agent said in a room.
// Audience lists the other agents that were present when it was spoken.
type Memory struct {
	ID        string
	Text      string
	SpeakerID string
	RoomID    RoomID
	MsgType   string
	Audience  []string
	At        time.Time
}

// ScoredMemory is one result of a semantic memory search.
type ScoredMemory struct {
	Text     string
	From     string
	Location string
	Score    float64
}

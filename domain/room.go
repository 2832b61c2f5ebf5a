// Package domain contains core concepts of the coordination layer.
// This file defines rooms and membership views.
// No runtime, network, or storage logic should be added here.
package domain

type RoomID string

// Member is one entry of a room roster, as published to subscribers.
type Member struct {
	AgentID  string
	Username *string
}

// RoomCount is one entry of the global room-state summary.
type RoomCount struct {
	ID    RoomID
	Count int
}

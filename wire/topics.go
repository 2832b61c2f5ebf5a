// Package wire defines the topic grammar and the JSON payloads exchanged
// over the pub/sub transport. Payload field names follow the frontend
// contract and must not change without coordinating with clients.
package wire

import (
	"agent-town/domain"
	"strings"
)

const (
	TopicRoomsState    = "rooms/state"
	TopicBackendStatus = "backend/status"
	TopicSenderHistory = "senders/history/request"
)

// SubscriptionPatterns lists every inbound pattern the backend listens on.
func SubscriptionPatterns() []string {
	return []string{
		"rooms/+/join",
		"rooms/+/leave",
		"rooms/+/chat/in",
		"agents/+/status",
		"agents/+/heartbeat",
		"rooms/+/history/request",
		TopicSenderHistory,
		"agents/+/memory/find/request",
	}
}

func RoomMembersTopic(roomID domain.RoomID) string {
	return "rooms/" + string(roomID) + "/members"
}

func ChatOutTopic(roomID domain.RoomID) string {
	return "rooms/" + string(roomID) + "/chat/out"
}

func RoomHistoryResponseTopic(roomID domain.RoomID, requestID string) string {
	return "rooms/" + string(roomID) + "/history/response/" + requestID
}

func SenderHistoryResponseTopic(requestID string) string {
	return "senders/history/response/" + requestID
}

func MemoryFindResponseTopic(agentID, requestID string) string {
	return "agents/" + agentID + "/memory/find/response/" + requestID
}

type Kind int

const (
	KindUnknown Kind = iota
	KindJoin
	KindLeave
	KindChatIn
	KindStatus
	KindHeartbeat
	KindRoomHistory
	KindSenderHistory
	KindMemoryFind
)

// Route is the classification of an inbound topic. RoomID or AgentID carries
// the captured path segment depending on the kind.
type Route struct {
	Kind    Kind
	RoomID  domain.RoomID
	AgentID string
}

// ParseInbound classifies a topic against the subscribed grammar.
// Unrecognized topics route to KindUnknown and are dropped by the dispatcher.
func ParseInbound(topic string) Route {
	parts := strings.Split(topic, "/")

	switch {
	case len(parts) == 3 && parts[0] == "rooms":
		switch parts[2] {
		case "join":
			return Route{Kind: KindJoin, RoomID: domain.RoomID(parts[1])}
		case "leave":
			return Route{Kind: KindLeave, RoomID: domain.RoomID(parts[1])}
		}
	case len(parts) == 4 && parts[0] == "rooms" && parts[2] == "chat" && parts[3] == "in":
		return Route{Kind: KindChatIn, RoomID: domain.RoomID(parts[1])}
	case len(parts) == 4 && parts[0] == "rooms" && parts[2] == "history" && parts[3] == "request":
		return Route{Kind: KindRoomHistory, RoomID: domain.RoomID(parts[1])}
	case len(parts) == 3 && parts[0] == "agents":
		switch parts[2] {
		case "status":
			return Route{Kind: KindStatus, AgentID: parts[1]}
		case "heartbeat":
			return Route{Kind: KindHeartbeat, AgentID: parts[1]}
		}
	case len(parts) == 5 && parts[0] == "agents" && parts[2] == "memory" && parts[3] == "find" && parts[4] == "request":
		return Route{Kind: KindMemoryFind, AgentID: parts[1]}
	case topic == TopicSenderHistory:
		return Route{Kind: KindSenderHistory}
	}
	return Route{Kind: KindUnknown}
}

// Match reports whether an MQTT topic filter matches a concrete topic.
// "+" matches exactly one segment, "#" matches the remainder.
func Match(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")

	for i, seg := range fp {
		if seg == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if seg != "+" && seg != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}

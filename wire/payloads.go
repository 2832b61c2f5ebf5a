package wire

// All timestamps on the wire are epoch milliseconds.

// JoinLeave is the payload of rooms/<roomId>/join and rooms/<roomId>/leave.
type JoinLeave struct {
	AgentID  string  `json:"agentId" validate:"required"`
	Username *string `json:"username,omitempty"`
	UserID   *string `json:"userId,omitempty"`
	Ts       int64   `json:"ts,omitempty"`
}

// Presence is the payload of agents/<agentId>/status, published either by
// the client itself or by the broker as a last-will on unclean disconnect.
type Presence struct {
	Status   string  `json:"status" validate:"required,oneof=online offline"`
	Username *string `json:"username,omitempty"`
	UserID   *string `json:"userId,omitempty"`
	Ts       int64   `json:"ts,omitempty"`
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Heartbeat is the payload of agents/<agentId>/heartbeat. Legacy clients
// send a bare "1"; the dispatcher tolerates any undecodable body.
type Heartbeat struct {
	Username *string `json:"username,omitempty"`
	Ts       int64   `json:"ts,omitempty"`
}

// ChatIn is the inbound chat submission. Msg is a pointer so that an absent
// field is distinguishable from an empty message.
type ChatIn struct {
	RoomID       *string `json:"roomId,omitempty"`
	FromAgentID  string  `json:"fromAgentId"`
	FromUsername *string `json:"fromUsername,omitempty"`
	FromUserID   *string `json:"fromUserId,omitempty"`
	Type         string  `json:"type,omitempty"`
	Msg          *string `json:"msg"`
	Ts           *int64  `json:"ts,omitempty"`
	ID           *string `json:"id,omitempty"`
}

// ChatOut is the relayed envelope published to rooms/<roomId>/chat/out.
type ChatOut struct {
	RoomID       string  `json:"roomId"`
	FromAgentID  string  `json:"fromAgentId"`
	FromUsername *string `json:"fromUsername"`
	Type         string  `json:"type"`
	Msg          string  `json:"msg"`
	Ts           int64   `json:"ts"`
	ID           string  `json:"id"`
	ServerTs     int64   `json:"serverTs"`
}

// RoomsState is the retained global summary published to rooms/state.
type RoomsState struct {
	Rooms []RoomCount `json:"rooms"`
	Ts    int64       `json:"ts"`
}

type RoomCount struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

// RoomMembers is the retained roster published to rooms/<roomId>/members.
type RoomMembers struct {
	RoomID  string   `json:"roomId"`
	Members []Member `json:"members"`
	Ts      int64    `json:"ts"`
}

type Member struct {
	AgentID  string  `json:"agentId"`
	Username *string `json:"username"`
}

// RoomHistoryRequest is the payload of rooms/<roomId>/history/request.
// Before is an exclusive epoch-ms upper bound on sentAt.
type RoomHistoryRequest struct {
	RequestID string `json:"requestId" validate:"required"`
	Limit     *int   `json:"limit,omitempty"`
	Before    *int64 `json:"before,omitempty"`
}

// SenderHistoryRequest is the payload of senders/history/request.
type SenderHistoryRequest struct {
	RequestID  string `json:"requestId" validate:"required"`
	SenderType string `json:"senderType,omitempty" validate:"omitempty,oneof=user agent"`
	SenderID   string `json:"senderId"`
	Limit      *int   `json:"limit,omitempty"`
	Before     *int64 `json:"before,omitempty"`
}

// HistoryMessage is one record of a history response.
type HistoryMessage struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	SenderID     string `json:"senderId"`
	SenderIsUser bool   `json:"senderIsUser"`
	ChatroomID   string `json:"chatroomId"`
	Lang         string `json:"lang,omitempty"`
	SentAt       int64  `json:"sentAt"`
}

type RoomHistoryResponse struct {
	RequestID  string           `json:"requestId"`
	RoomID     string           `json:"roomId"`
	Messages   []HistoryMessage `json:"messages"`
	NextBefore *int64           `json:"nextBefore"`
	Error      string           `json:"error,omitempty"`
	Ts         int64            `json:"ts"`
}

type SenderHistoryResponse struct {
	RequestID  string           `json:"requestId"`
	SenderType string           `json:"senderType"`
	SenderID   *string          `json:"senderId"`
	Messages   []HistoryMessage `json:"messages"`
	NextBefore *int64           `json:"nextBefore"`
	Error      string           `json:"error,omitempty"`
	Ts         int64            `json:"ts"`
}

// MemoryFindRequest is the payload of agents/<agentId>/memory/find/request.
type MemoryFindRequest struct {
	RequestID string `json:"requestId" validate:"required"`
	TextQuery string `json:"textQuery" validate:"required"`
}

type MemoryResult struct {
	Text     string  `json:"text"`
	From     string  `json:"from"`
	Location string  `json:"location"`
	Score    float64 `json:"score"`
}

type MemoryFindResponse struct {
	RequestID string         `json:"requestId"`
	AgentID   string         `json:"agentId"`
	TextQuery string         `json:"textQuery"`
	Results   []MemoryResult `json:"results"`
	Error     string         `json:"error,omitempty"`
	Ts        int64          `json:"ts"`
}

// BackendStatus is the retained self-report published to backend/status.
type BackendStatus struct {
	Status     string  `json:"status"`
	Pid        int     `json:"pid"`
	CPUPercent float64 `json:"cpuPercent"`
	RAMBytes   uint64  `json:"ramBytes"`
	Ts         int64   `json:"ts"`
}

package runtime

import (
	"agent-town/contract"
	"agent-town/domain"
	"agent-town/wire"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

const (
	historyDefaultLimit = 20
	historyMaxLimit     = 100
)

// Bridge correlates history and memory-search requests with asynchronous
// store calls. Correlation is purely by the caller-supplied request id,
// which suffixes the response topic; nothing is persisted or deduplicated
// beyond the in-flight call. Each request runs in its own goroutine so a
// slow store delays only its own response.
type Bridge struct {
	log         *slog.Logger
	transport   contract.Transport
	history     contract.IHistoryStore
	memories    contract.IMemoryStore
	validate    *validator.Validate
	memoryLimit int
}

func NewBridge(log *slog.Logger, transport contract.Transport,
	history contract.IHistoryStore, memories contract.IMemoryStore, memoryLimit int) *Bridge {
	return &Bridge{
		log:         log,
		transport:   transport,
		history:     history,
		memories:    memories,
		validate:    validator.New(),
		memoryLimit: memoryLimit,
	}
}

// HandleRoomHistory answers rooms/<roomId>/history/request. A payload
// without an extractable request id is dropped: there is no topic to
// respond on.
func (b *Bridge) HandleRoomHistory(roomID domain.RoomID, payload []byte) {
	var request wire.RoomHistoryRequest
	if err := json.Unmarshal(payload, &request); err != nil {
		b.log.Warn("Bad room history request", "room", roomID, "error", err)
		return
	}
	if err := b.validate.Struct(request); err != nil {
		b.log.Warn("Invalid room history request", "room", roomID, "error", err)
		return
	}

	limit := clampLimit(request.Limit)
	before := msToTime(request.Before)
	topic := wire.RoomHistoryResponseTopic(roomID, request.RequestID)

	go guard(b.log, "room history query", func() {
		messages, err := b.history.ListByRoom(roomID, before, limit)
		response := wire.RoomHistoryResponse{
			RequestID: request.RequestID,
			RoomID:    string(roomID),
			Messages:  toHistoryMessages(messages),
			Ts:        time.Now().UnixMilli(),
		}
		if err != nil {
			b.log.Error("Room history query failed", "room", roomID, "error", err)
			response.Messages = []wire.HistoryMessage{}
			response.Error = "query_failed"
		} else {
			response.NextBefore = nextBefore(messages)
		}
		b.respond(topic, response)
	})
}

// HandleSenderHistory answers senders/history/request for a user or agent.
func (b *Bridge) HandleSenderHistory(payload []byte) {
	var request wire.SenderHistoryRequest
	if err := json.Unmarshal(payload, &request); err != nil {
		b.log.Warn("Bad sender history request", "error", err)
		return
	}
	if err := b.validate.Struct(request); err != nil {
		b.log.Warn("Invalid sender history request", "error", err)
		return
	}

	senderType := lo.Ternary(request.SenderType != "", request.SenderType, "agent")
	topic := wire.SenderHistoryResponseTopic(request.RequestID)

	if request.SenderID == "" {
		b.respond(topic, wire.SenderHistoryResponse{
			RequestID:  request.RequestID,
			SenderType: senderType,
			Messages:   []wire.HistoryMessage{},
			Error:      "missing_senderId",
			Ts:         time.Now().UnixMilli(),
		})
		return
	}

	limit := clampLimit(request.Limit)
	before := msToTime(request.Before)

	go guard(b.log, "sender history query", func() {
		messages, err := b.history.ListBySender(request.SenderID, senderType == "user", before, limit)
		response := wire.SenderHistoryResponse{
			RequestID:  request.RequestID,
			SenderType: senderType,
			SenderID:   &request.SenderID,
			Messages:   toHistoryMessages(messages),
			Ts:         time.Now().UnixMilli(),
		}
		if err != nil {
			b.log.Error("Sender history query failed", "sender", request.SenderID, "type", senderType, "error", err)
			response.Messages = []wire.HistoryMessage{}
			response.Error = "query_failed"
		} else {
			response.NextBefore = nextBefore(messages)
		}
		b.respond(topic, response)
	})
}

// HandleMemoryFind answers agents/<agentId>/memory/find/request. The
// embedder behind the memory store can be slow on first use, so the call
// never runs on the dispatch path. A store failure still produces a
// response for the request id, with an empty result set and an error
// marker, so callers are not left waiting for a timeout.
func (b *Bridge) HandleMemoryFind(agentID string, payload []byte) {
	var request wire.MemoryFindRequest
	if err := json.Unmarshal(payload, &request); err != nil {
		b.log.Warn("Bad memory find request", "agent", agentID, "error", err)
		return
	}
	if err := b.validate.Struct(request); err != nil {
		b.log.Warn("Invalid memory find request", "agent", agentID, "error", err)
		return
	}

	topic := wire.MemoryFindResponseTopic(agentID, request.RequestID)

	go guard(b.log, "memory search", func() {
		results, err := b.memories.FindMemories(context.Background(), request.TextQuery, agentID, b.memoryLimit)
		response := wire.MemoryFindResponse{
			RequestID: request.RequestID,
			AgentID:   agentID,
			TextQuery: request.TextQuery,
			Results: lo.Map(results, func(m domain.ScoredMemory, _ int) wire.MemoryResult {
				return wire.MemoryResult{Text: m.Text, From: m.From, Location: m.Location, Score: m.Score}
			}),
			Ts: time.Now().UnixMilli(),
		}
		if err != nil {
			b.log.Error("Memory search failed", "agent", agentID, "error", err)
			response.Results = []wire.MemoryResult{}
			response.Error = "query_failed"
		}
		if response.Results == nil {
			response.Results = []wire.MemoryResult{}
		}
		b.respond(topic, response)
	})
}

func (b *Bridge) respond(topic string, response any) {
	payload, err := json.Marshal(response)
	if err != nil {
		b.log.Error("Response marshal failed", "topic", topic, "error", err)
		return
	}
	b.transport.Publish(topic, payload, false)
}

func clampLimit(limit *int) int {
	if limit == nil {
		return historyDefaultLimit
	}
	switch {
	case *limit < 1:
		return 1
	case *limit > historyMaxLimit:
		return historyMaxLimit
	default:
		return *limit
	}
}

func msToTime(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

func toHistoryMessages(messages []domain.Message) []wire.HistoryMessage {
	out := make([]wire.HistoryMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, wire.HistoryMessage{
			ID:           m.ID,
			Text:         m.Text,
			SenderID:     m.SenderID,
			SenderIsUser: m.SenderIsUser,
			ChatroomID:   string(m.RoomID),
			Lang:         m.Lang,
			SentAt:       m.SentAt.UnixMilli(),
		})
	}
	return out
}

// nextBefore is the sentAt of the oldest returned message, the cursor a
// caller passes back to page further into the past.
func nextBefore(messages []domain.Message) *int64 {
	if len(messages) == 0 {
		return nil
	}
	ms := messages[len(messages)-1].SentAt.UnixMilli()
	return &ms
}

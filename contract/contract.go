//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"agent-town/domain"
	"context"
	"reflect"
	"time"
)

// Transport is the pub/sub capability consumed by the coordination layer.
// Publish is fire-and-forget; a retained publish makes the broker hand the
// last value to any future subscriber of that topic.
type Transport interface {
	SetHandler(h Handler)
	Subscribe(patterns ...string) error
	Publish(topic string, payload []byte, retain bool)
}

// Handler receives every inbound (topic, payload) pair from the transport.
type Handler func(topic string, payload []byte)

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker
// lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// IRegistry is the authoritative session state. All mutations are
// synchronous and never perform I/O.
type IRegistry interface {
	SetHeartbeat(agentID string, now time.Time)
	SetUsername(agentID, username string)
	Username(agentID string) *string
	CurrentRoom(agentID string) (domain.RoomID, bool)
	MembersOf(roomID domain.RoomID) []domain.Member
	AssignRoom(agentID string, roomID domain.RoomID) (domain.RoomID, error)
	ClearRoom(agentID string) (domain.RoomID, bool)
	DropHeartbeat(agentID string)
	ExpiredAgents(now time.Time, timeout time.Duration) []string
	Counts() []domain.RoomCount
}

// IHistoryStore is the durable chat history collaborator.
// Upserts are idempotent and invoked as best-effort side effects.
type IHistoryStore interface {
	StoreMessage(message domain.Message) error
	ListByRoom(roomID domain.RoomID, before *time.Time, limit int) ([]domain.Message, error)
	ListBySender(senderID string, isUser bool, before *time.Time, limit int) ([]domain.Message, error)
	UpsertRoom(roomID domain.RoomID) error
	UpsertUser(id, username string) error
	UpsertAgent(id, userID string) error
}

// IMemoryStore is the semantic memory collaborator.
type IMemoryStore interface {
	SaveMemory(memory domain.Memory) error
	FindMemories(ctx context.Context, textQuery, agentID string, limit int) ([]domain.ScoredMemory, error)
	UpsertAgent(agentID string) error
	UpsertLocation(roomID domain.RoomID) error
}

// IEmbedder turns text into a fixed-size feature vector. Consumed only by
// the memory store, never by the coordination loop.
type IEmbedder interface {
	Features(text string) []float64
}

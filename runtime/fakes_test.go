package runtime

import (
	"context"
	"sync"
	"time"

	"agent-town/domain"
)

// fakeHistory is an in-memory IHistoryStore with injectable failures.
type fakeHistory struct {
	mu       sync.Mutex
	messages []domain.Message
	rooms    []domain.RoomID
	failWith error
}

func (f *fakeHistory) StoreMessage(message domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeHistory) ListByRoom(roomID domain.RoomID, before *time.Time, limit int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []domain.Message
	for i := len(f.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := f.messages[i]
		if m.RoomID != roomID {
			continue
		}
		if before != nil && !m.SentAt.Before(*before) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeHistory) ListBySender(senderID string, isUser bool, before *time.Time, limit int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []domain.Message
	for i := len(f.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := f.messages[i]
		if m.SenderID != senderID || m.SenderIsUser != isUser {
			continue
		}
		if before != nil && !m.SentAt.Before(*before) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeHistory) UpsertRoom(roomID domain.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms = append(f.rooms, roomID)
	return nil
}

func (f *fakeHistory) UpsertUser(id, username string) error { return nil }

func (f *fakeHistory) UpsertAgent(id, userID string) error { return nil }

func (f *fakeHistory) stored() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.messages...)
}

// fakeMemories is an in-memory IMemoryStore with injectable failures.
type fakeMemories struct {
	mu       sync.Mutex
	saved    []domain.Memory
	results  []domain.ScoredMemory
	failWith error
}

func (f *fakeMemories) SaveMemory(memory domain.Memory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.saved = append(f.saved, memory)
	return nil
}

func (f *fakeMemories) FindMemories(_ context.Context, textQuery, agentID string, limit int) ([]domain.ScoredMemory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	if len(f.results) > limit {
		return f.results[:limit], nil
	}
	return f.results, nil
}

func (f *fakeMemories) UpsertAgent(agentID string) error { return nil }

func (f *fakeMemories) UpsertLocation(roomID domain.RoomID) error { return nil }

func (f *fakeMemories) memories() []domain.Memory {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Memory(nil), f.saved...)
}

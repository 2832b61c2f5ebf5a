// Package repositories implements the backing stores behind the
// coordination layer: durable chat history on BadgerDB and the semantic
// memory index on Bluge.
package repositories

import (
	"agent-town/domain"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const maxPaddedNanos = "9999999999999999999"

// MessageRepository persists chat history in BadgerDB.
//
// Keys are formatted as "msg:{roomId}:{timestamp_padded}:{uuid}" plus a
// sender-index copy "snd:{u|a}:{senderId}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding
//     (lexicographical order).
//  2. Prevent data loss by using a UUID as a collision disconnector if two
//     messages arrive at the same nanosecond.
type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) MessageRepository {
	return MessageRepository{db: db, log: log}
}

type storedMessage struct {
	ID           string `json:"id"`
	Room         string `json:"room"`
	SenderID     string `json:"senderId"`
	SenderIsUser bool   `json:"senderIsUser"`
	Text         string `json:"text"`
	Lang         string `json:"lang,omitempty"`
	SentAt       int64  `json:"sentAt"` // unix nanoseconds
}

// StoreMessage persists a message under its room key and its sender index
// key in one transaction.
func (m MessageRepository) StoreMessage(message domain.Message) error {
	record := storedMessage{
		ID:           message.ID,
		Room:         string(message.RoomID),
		SenderID:     message.SenderID,
		SenderIsUser: message.SenderIsUser,
		Text:         message.Text,
		Lang:         message.Lang,
		SentAt:       message.SentAt.UnixNano(),
	}
	value, err := json.Marshal(record)
	if err != nil {
		return err
	}

	disambiguator := uuid.New()
	roomKey := fmt.Sprintf("msg:%s:%019d:%s", record.Room, record.SentAt, disambiguator)
	senderKey := fmt.Sprintf("snd:%s:%s:%019d:%s",
		senderKind(message.SenderIsUser), record.SenderID, record.SentAt, disambiguator)

	return m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(roomKey), value); err != nil {
			return err
		}
		return txn.Set([]byte(senderKey), value)
	})
}

// ListByRoom returns up to limit messages of a room, newest first. A non-nil
// before restricts results to messages strictly older than that instant.
func (m MessageRepository) ListByRoom(roomID domain.RoomID, before *time.Time, limit int) ([]domain.Message, error) {
	prefix := fmt.Sprintf("msg:%s:", roomID)
	return m.scan(prefix, before, limit)
}

// ListBySender returns up to limit messages of one sender, newest first.
func (m MessageRepository) ListBySender(senderID string, isUser bool, before *time.Time, limit int) ([]domain.Message, error) {
	prefix := fmt.Sprintf("snd:%s:%s:", senderKind(isUser), senderID)
	return m.scan(prefix, before, limit)
}

// scan walks a key prefix in reverse so the padded timestamps come out
// newest first. The seek key places the iterator just below the exclusive
// upper bound.
func (m MessageRepository) scan(prefix string, before *time.Time, limit int) ([]domain.Message, error) {
	var values [][]byte
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		seekKey := prefix + maxPaddedNanos
		if before != nil {
			seekKey = fmt.Sprintf("%s%019d", prefix, before.UnixNano()-1) + ":\xff"
		}

		prefixBytes := []byte(prefix)
		for it.Seek([]byte(seekKey)); it.ValidForPrefix(prefixBytes); it.Next() {
			if len(values) == limit {
				m.log.Debug(fmt.Sprintf("Maximum of %d messages reached", limit))
				break
			}
			err := it.Item().Value(func(value []byte) error {
				values = append(values, append([]byte(nil), value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	messages := make([]domain.Message, 0, len(values))
	for _, value := range values {
		var record storedMessage
		if err := json.Unmarshal(value, &record); err != nil {
			return nil, err
		}
		messages = append(messages, domain.Message{
			ID:           record.ID,
			RoomID:       domain.RoomID(record.Room),
			SenderID:     record.SenderID,
			SenderIsUser: record.SenderIsUser,
			Text:         record.Text,
			Lang:         record.Lang,
			SentAt:       time.Unix(0, record.SentAt).UTC(),
		})
	}
	return messages, nil
}

// UpsertRoom, UpsertUser and UpsertAgent are idempotent last-write-wins
// records; they exist so history rows always have a referent even when a
// client skipped its online announcement.

func (m MessageRepository) UpsertRoom(roomID domain.RoomID) error {
	return m.setJSON("room:"+string(roomID), map[string]string{
		"id":       string(roomID),
		"roomname": string(roomID),
	})
}

func (m MessageRepository) UpsertUser(id, username string) error {
	return m.setJSON("usr:"+id, map[string]string{
		"id":       id,
		"username": username,
	})
}

func (m MessageRepository) UpsertAgent(id, userID string) error {
	return m.setJSON("agt:"+id, map[string]string{
		"id":        id,
		"uid":       userID,
		"agentname": id,
	})
}

func (m MessageRepository) setJSON(key string, record map[string]string) error {
	value, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func senderKind(isUser bool) string {
	if isUser {
		return "u"
	}
	return "a"
}

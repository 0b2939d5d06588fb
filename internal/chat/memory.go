package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"roomchat/internal/apperr"
)

type readKey struct {
	messageID int64
	userID    int64
}

// MemoryStore is an in-process Store. Usernames are resolved from the
// names registered with PutAuthor.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	messages map[int64]Message
	reads    map[readKey]time.Time
	names    map[int64]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[int64]Message),
		reads:    make(map[readKey]time.Time),
		names:    make(map[int64]string),
	}
}

func (m *MemoryStore) PutAuthor(userID int64, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[userID] = username
}

func (m *MemoryStore) CreateMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg.ID = m.nextID
	msg.Author = Author{ID: msg.AuthorID, Username: m.names[msg.AuthorID]}
	msg.Reads = nil
	m.messages[msg.ID] = *msg
	return nil
}

func (m *MemoryStore) FindMessage(_ context.Context, id int64) (Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return Message{}, fmt.Errorf("message %d: %w", id, apperr.ErrNotFound)
	}
	return msg, nil
}

func (m *MemoryStore) UpdateContent(_ context.Context, id int64, content string, editedAt time.Time) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return Message{}, fmt.Errorf("message %d: %w", id, apperr.ErrNotFound)
	}
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &editedAt
	m.messages[id] = msg
	return msg, nil
}

func (m *MemoryStore) DeleteMessage(_ context.Context, id int64) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return Message{}, fmt.Errorf("message %d: %w", id, apperr.ErrNotFound)
	}
	delete(m.messages, id)
	for k := range m.reads {
		if k.messageID == id {
			delete(m.reads, k)
		}
	}
	return msg, nil
}

func (m *MemoryStore) roomMessages(roomID int64) []Message {
	var res []Message
	for _, msg := range m.messages {
		if msg.RoomID == roomID {
			res = append(res, msg)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res
}

func (m *MemoryStore) ListMessages(_ context.Context, roomID int64, limit, offset int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.roomMessages(roomID)
	if offset >= len(all) {
		return []Message{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *MemoryStore) CountMessages(_ context.Context, roomID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.roomMessages(roomID))), nil
}

func (m *MemoryStore) AddRead(_ context.Context, messageID, userID int64, readAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[messageID]; !ok {
		return false, fmt.Errorf("message %d: %w", messageID, apperr.ErrNotFound)
	}
	k := readKey{messageID: messageID, userID: userID}
	if _, exists := m.reads[k]; exists {
		return false, nil
	}
	m.reads[k] = readAt
	return true, nil
}

func (m *MemoryStore) ListReads(_ context.Context, messageIDs []int64) (map[int64][]ReadReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := make(map[int64]bool, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = true
	}
	reads := make(map[int64][]ReadReceipt, len(messageIDs))
	for k, at := range m.reads {
		if wanted[k.messageID] {
			reads[k.messageID] = append(reads[k.messageID], ReadReceipt{
				MessageID: k.messageID,
				UserID:    k.userID,
				Username:  m.names[k.userID],
				ReadAt:    at,
			})
		}
	}
	for id := range reads {
		rs := reads[id]
		sort.Slice(rs, func(i, j int) bool {
			if !rs[i].ReadAt.Equal(rs[j].ReadAt) {
				return rs[i].ReadAt.Before(rs[j].ReadAt)
			}
			return rs[i].UserID < rs[j].UserID
		})
	}
	return reads, nil
}

func (m *MemoryStore) UnreadCount(_ context.Context, roomID, userID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, msg := range m.messages {
		if msg.RoomID != roomID || msg.AuthorID == userID {
			continue
		}
		if _, read := m.reads[readKey{messageID: msg.ID, userID: userID}]; !read {
			n++
		}
	}
	return n, nil
}

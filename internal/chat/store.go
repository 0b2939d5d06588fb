package chat

import (
	"context"
	"time"
)

// Store persists messages and read receipts. Each method is a single atomic
// statement; read receipts rely on the (message_id, user_id) key and report
// a duplicate as inserted == false rather than an error.
type Store interface {
	CreateMessage(ctx context.Context, m *Message) error
	FindMessage(ctx context.Context, id int64) (Message, error)
	UpdateContent(ctx context.Context, id int64, content string, editedAt time.Time) (Message, error)
	DeleteMessage(ctx context.Context, id int64) (Message, error)
	ListMessages(ctx context.Context, roomID int64, limit, offset int) ([]Message, error)
	CountMessages(ctx context.Context, roomID int64) (int64, error)

	AddRead(ctx context.Context, messageID, userID int64, readAt time.Time) (bool, error)
	ListReads(ctx context.Context, messageIDs []int64) (map[int64][]ReadReceipt, error)
	UnreadCount(ctx context.Context, roomID, userID int64) (int64, error)
}

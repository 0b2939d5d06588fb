package chat

import (
	"io"
	"time"
)

// ---------------------------------------------
// Database & API Models
// ---------------------------------------------

type Author struct {
	ID       int64  `json:"id"`
	Username string `json:"username"` // Denormalized for UI speed (fetched via JOIN)
}

// Attachment references a file held by the blob store.
type Attachment struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

type ReadReceipt struct {
	MessageID int64     `json:"message_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	ReadAt    time.Time `json:"read_at"`
}

// Message is a stored chat message. IsEdited is true exactly when EditedAt
// is set. Deleted messages are removed from the store, so a Message value
// is always live.
type Message struct {
	ID         int64         `json:"id"`
	RoomID     int64         `json:"room_id"`
	AuthorID   int64         `json:"user_id"`
	Author     Author        `json:"user"`
	Content    string        `json:"content"`
	Attachment *Attachment   `json:"attachment,omitempty"`
	IsEdited   bool          `json:"is_edited"`
	EditedAt   *time.Time    `json:"edited_at"`
	CreatedAt  time.Time     `json:"created_at"`
	Reads      []ReadReceipt `json:"reads"`
}

// Page is one page of a room's history, newest first.
type Page struct {
	Data        []Message `json:"data"`
	CurrentPage int       `json:"current_page"`
	PerPage     int       `json:"per_page"`
	Total       int64     `json:"total"`
	LastPage    int       `json:"last_page"`
}

type SendRequest struct {
	RoomID  int64  `json:"room_id" validate:"required,gt=0"`
	Content string `json:"content"`
}

type EditRequest struct {
	Content string `json:"content"`
}

// Upload is a file received with a message, not yet in the blob store.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ---------------------------------------------
// Websocket Models
// ---------------------------------------------

// WSMessage is the JSON frame the frontend SENDS to us over the socket.
// Messages themselves are posted over REST; the socket only manages
// channel subscriptions.
type WSMessage struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	RoomID int64  `json:"room_id"`
}

// ControlFrame is what the hub sends about the connection itself.
type ControlFrame struct {
	Type     string `json:"type"`
	SocketID string `json:"socket_id,omitempty"`
	Channel  string `json:"channel,omitempty"`
	Error    string `json:"error,omitempty"`
}

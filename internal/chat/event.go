package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type EventType string

const (
	MessageCreated EventType = "message.created"
	MessageUpdated EventType = "message.updated"
	MessageDeleted EventType = "message.deleted"
)

const topicPrefix = "room."

// Event is a message lifecycle change published after the store accepted it.
// OriginID names the websocket connection whose request caused it; that
// connection is skipped during fan-out.
type Event struct {
	Type     EventType       `json:"type"`
	RoomID   int64           `json:"room_id"`
	OriginID string          `json:"origin_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// DeletedPayload is all a deletion reveals: never the removed content.
type DeletedPayload struct {
	RoomID    int64 `json:"roomId"`
	MessageID int64 `json:"messageId"`
}

// Envelope is the frame subscribers receive.
type Envelope struct {
	Channel string          `json:"channel"`
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func NewEvent(t EventType, roomID int64, originID string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Event{Type: t, RoomID: roomID, OriginID: originID, Payload: data}, nil
}

// Topic is the broadcast channel name of a room.
func Topic(roomID int64) string {
	return topicPrefix + strconv.FormatInt(roomID, 10)
}

// ParseTopic is the inverse of Topic.
func ParseTopic(topic string) (int64, bool) {
	rest, ok := strings.CutPrefix(topic, topicPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (e Event) envelope() ([]byte, error) {
	return json.Marshal(Envelope{Channel: Topic(e.RoomID), Type: e.Type, Payload: e.Payload})
}

type originKey struct{}

// WithOrigin records the caller's websocket connection id on ctx.
func WithOrigin(ctx context.Context, socketID string) context.Context {
	return context.WithValue(ctx, originKey{}, strings.TrimSpace(socketID))
}

func originFrom(ctx context.Context) string {
	s, _ := ctx.Value(originKey{}).(string)
	return s
}

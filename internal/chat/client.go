package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"roomchat/internal/auth"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 512
	sendBuffer     = 256
)

// SubscribeAuthorizer decides whether a connection may listen to a room.
type SubscribeAuthorizer interface {
	CanSubscribe(ctx context.Context, id auth.Identity, roomID int64) (bool, error)
}

// PresenceTracker receives connection lifecycle signals.
type PresenceTracker interface {
	Connected(ctx context.Context, userID int64) error
	Touch(ctx context.Context, userID int64) error
	Disconnected(ctx context.Context, userID int64) error
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	ID       string
	Identity auth.Identity
	Send     chan []byte

	hub      *Hub
	conn     *websocket.Conn
	authz    SubscribeAuthorizer
	presence PresenceTracker
	log      *slog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, id auth.Identity, authz SubscribeAuthorizer, presence PresenceTracker, log *slog.Logger) *Client {
	socketID := uuid.NewString()
	return &Client{
		ID:       socketID,
		Identity: id,
		Send:     make(chan []byte, sendBuffer),
		hub:      hub,
		conn:     conn,
		authz:    authz,
		presence: presence,
		log:      log.With("socket_id", socketID, "user_id", id.ID),
	}
}

// ReadPump handles subscribe and unsubscribe frames until the connection
// dies. Access is checked once, when the subscription is requested.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		c.presenceSignal(ctx, PresenceTracker.Disconnected)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.presenceSignal(ctx, PresenceTracker.Touch)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read failed", "error", err)
			}
			return
		}

		var frame WSMessage
		if err := json.Unmarshal(data, &frame); err != nil || frame.RoomID <= 0 {
			c.hub.submit(subscription{client: c, roomID: frame.RoomID, err: "malformed frame"})
			continue
		}

		switch frame.Action {
		case "subscribe":
			c.hub.submit(c.authorize(ctx, frame.RoomID))
		case "unsubscribe":
			c.hub.submit(subscription{client: c, roomID: frame.RoomID})
		default:
			c.hub.submit(subscription{client: c, roomID: frame.RoomID, err: "unknown action"})
		}
	}
}

func (c *Client) authorize(ctx context.Context, roomID int64) subscription {
	sub := subscription{client: c, roomID: roomID, join: true}
	ok, err := c.authz.CanSubscribe(ctx, c.Identity, roomID)
	switch {
	case err != nil:
		c.log.Error("subscribe check failed", "room_id", roomID, "error", err)
		sub.err = "internal error"
	case !ok:
		sub.err = "forbidden"
	}
	return sub
}

func (c *Client) presenceSignal(ctx context.Context, signal func(PresenceTracker, context.Context, int64) error) {
	if c.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := signal(c.presence, ctx, c.Identity.ID); err != nil {
		c.log.Warn("presence update failed", "error", err)
	}
}

// WritePump pumps frames from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One frame per event: clients parse each frame as a single JSON
			// document.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

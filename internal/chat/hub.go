package chat

import (
	"context"
	"encoding/json"
	"log/slog"
)

type subscription struct {
	client *Client
	roomID int64
	join   bool
	err    string
}

// Hub tracks live websocket connections and the rooms they listen to.
// Run is the only goroutine that touches the maps or writes to a client's
// Send channel, so neither needs a lock.
type Hub struct {
	clients       map[*Client]bool
	rooms         map[int64]map[*Client]bool
	register      chan *Client
	unregister    chan *Client
	subscriptions chan subscription
	broadcast     chan Event
	done          chan struct{}
	log           *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		rooms:         make(map[int64]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscriptions: make(chan subscription),
		broadcast:     make(chan Event, 256),
		done:          make(chan struct{}),
		log:           log,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			close(c.Send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = true
			h.control(c, ControlFrame{Type: "connected", SocketID: c.ID})

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}

		case sub := <-h.subscriptions:
			h.applySubscription(sub)

		case evt := <-h.broadcast:
			h.fanOut(evt)
		}
	}
}

// Deliver queues an event from the bus for fan-out.
func (h *Hub) Deliver(evt Event) {
	select {
	case h.broadcast <- evt:
	case <-h.done:
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.Send)
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) submit(sub subscription) {
	select {
	case h.subscriptions <- sub:
	case <-h.done:
	}
}

func (h *Hub) applySubscription(sub subscription) {
	c := sub.client
	if !h.clients[c] {
		return
	}
	channel := Topic(sub.roomID)
	if sub.err != "" {
		h.control(c, ControlFrame{Type: "subscription_error", Channel: channel, Error: sub.err})
		return
	}

	if !sub.join {
		if members, ok := h.rooms[sub.roomID]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, sub.roomID)
			}
		}
		h.control(c, ControlFrame{Type: "unsubscribed", Channel: channel})
		return
	}

	members, ok := h.rooms[sub.roomID]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[sub.roomID] = members
	}
	members[c] = true
	h.control(c, ControlFrame{Type: "subscribed", Channel: channel})
}

func (h *Hub) fanOut(evt Event) {
	members := h.rooms[evt.RoomID]
	if len(members) == 0 {
		return
	}
	frame, err := evt.envelope()
	if err != nil {
		h.log.Error("event envelope failed", "room_id", evt.RoomID, "error", err)
		return
	}
	for c := range members {
		if evt.OriginID != "" && c.ID == evt.OriginID {
			continue
		}
		h.send(c, frame)
	}
}

func (h *Hub) control(c *Client, f ControlFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	h.send(c, data)
}

// send never blocks the hub: a client whose buffer is full is disconnected.
func (h *Hub) send(c *Client, data []byte) {
	select {
	case c.Send <- data:
	default:
		h.log.Warn("dropping slow websocket client", "socket_id", c.ID, "user_id", c.Identity.ID)
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	for roomID, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	delete(h.clients, c)
	close(c.Send)
}

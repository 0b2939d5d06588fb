package room

import (
	"time"

	"roomchat/internal/user"
)

type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Room struct {
	ID          int64     `json:"id"`
	CategoryID  int64     `json:"category_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsPrivate   bool      `json:"is_private"`
	CreatedAt   time.Time `json:"created_at"`
}

// Member is one entry of a room's member list. JoinedAt is nil for users
// listed through a public room's directory who never joined explicitly.
type Member struct {
	UserID   int64      `json:"id"`
	Username string     `json:"username"`
	IsAdmin  bool       `json:"is_admin"`
	JoinedAt *time.Time `json:"joined_at,omitempty"`
}

// Detail is a single room with its explicit membership.
type Detail struct {
	Room
	Users []Member `json:"users"`
}

// UserRooms is a directory entry with the private rooms the user was granted.
type UserRooms struct {
	user.User
	Rooms      []Room `json:"rooms"`
	RoomsCount int    `json:"rooms_count"`
}

type CreateRoomRequest struct {
	CategoryID  int64  `json:"category_id" validate:"required,gt=0"`
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=2000"`
	IsPrivate   bool   `json:"is_private"`
}

type CreateCategoryRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

// AssignRequest is the body of the admin assign/remove room endpoints.
type AssignRequest struct {
	RoomID int64 `json:"room_id" validate:"required,gt=0"`
}

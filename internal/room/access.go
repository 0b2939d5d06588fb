package room

import (
	"context"

	"roomchat/internal/auth"
)

// MembershipChecker answers whether a user currently belongs to a room.
type MembershipChecker interface {
	IsMember(ctx context.Context, roomID, userID int64) (bool, error)
}

// Access decides whether an identity may read, write or subscribe to a room.
// The same rule applies to all three: public rooms are open, admins see
// everything, and private rooms require membership. Nothing is cached, so a
// member removed between two calls loses access on the second one.
type Access struct {
	members MembershipChecker
}

func NewAccess(members MembershipChecker) *Access {
	return &Access{members: members}
}

func (a *Access) CanRead(ctx context.Context, id auth.Identity, r Room) (bool, error) {
	return a.allowed(ctx, id, r)
}

func (a *Access) CanWrite(ctx context.Context, id auth.Identity, r Room) (bool, error) {
	return a.allowed(ctx, id, r)
}

func (a *Access) CanSubscribe(ctx context.Context, id auth.Identity, r Room) (bool, error) {
	return a.allowed(ctx, id, r)
}

func (a *Access) allowed(ctx context.Context, id auth.Identity, r Room) (bool, error) {
	if !r.IsPrivate || id.IsAdmin {
		return true, nil
	}
	return a.members.IsMember(ctx, r.ID, id.ID)
}

package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"roomchat/internal/apperr"
	"roomchat/internal/auth"
	"roomchat/internal/user"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// Store persists rooms and the room/user membership relation.
type Store interface {
	MembershipChecker
	FindRoom(ctx context.Context, id int64) (Room, error)
	AddMember(ctx context.Context, roomID, userID int64, joinedAt time.Time) (bool, error)
	RemoveMember(ctx context.Context, roomID, userID int64) error
	ListMembers(ctx context.Context, roomID int64) ([]Member, error)
	ListVisibleRooms(ctx context.Context, id auth.Identity) ([]Room, error)
	PrivateRooms(ctx context.Context, userIDs []int64) (map[int64][]Room, error)
	CreateRoom(ctx context.Context, r *Room, creatorID int64, at time.Time) error
	CreateCategory(ctx context.Context, c *Category) error
	ListCategories(ctx context.Context) ([]Category, error)
}

// Directory is the identity directory owned by the user service.
type Directory interface {
	ListUsers(ctx context.Context) ([]user.User, error)
	GetUserByID(ctx context.Context, id int64) (*user.User, error)
}

// Service is the membership registry plus the small amount of room
// administration needed to create rooms with their first member.
type Service struct {
	store    Store
	users    Directory
	access   *Access
	validate *validator.Validate
	log      *slog.Logger
	now      func() time.Time
}

func NewService(store Store, users Directory, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		users:    users,
		access:   NewAccess(store),
		validate: validator.New(),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Access() *Access { return s.access }

// Room looks up a room; missing rooms yield apperr.ErrNotFound.
func (s *Service) Room(ctx context.Context, id int64) (Room, error) {
	return s.store.FindRoom(ctx, id)
}

// Get returns a readable room with its members. A private room the
// requester cannot read is reported as not found.
func (s *Service) Get(ctx context.Context, roomID int64, requester auth.Identity) (Detail, error) {
	r, err := s.store.FindRoom(ctx, roomID)
	if err != nil {
		return Detail{}, err
	}
	ok, err := s.access.CanRead(ctx, requester, r)
	if err != nil {
		return Detail{}, err
	}
	if !ok {
		return Detail{}, fmt.Errorf("room %d: %w", r.ID, apperr.ErrNotFound)
	}
	members, err := s.store.ListMembers(ctx, r.ID)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Room: r, Users: members}, nil
}

// Join adds id to the room and returns the room's membership set.
func (s *Service) Join(ctx context.Context, roomID int64, id auth.Identity) ([]Member, error) {
	r, err := s.store.FindRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	member, err := s.store.IsMember(ctx, r.ID, id.ID)
	if err != nil {
		return nil, err
	}
	if member {
		return nil, fmt.Errorf("join room %d: %w", r.ID, apperr.ErrAlreadyMember)
	}
	if r.IsPrivate && !id.IsAdmin {
		return nil, fmt.Errorf("join private room %d: %w", r.ID, apperr.ErrForbidden)
	}
	inserted, err := s.store.AddMember(ctx, r.ID, id.ID, s.now())
	if err != nil {
		return nil, err
	}
	if !inserted {
		// lost a race against a concurrent join of the same user
		return nil, fmt.Errorf("join room %d: %w", r.ID, apperr.ErrAlreadyMember)
	}
	s.log.Debug("room joined", "room_id", r.ID, "user_id", id.ID)
	return s.store.ListMembers(ctx, r.ID)
}

// Leave removes id from the room. Leaving a room you are not in succeeds.
func (s *Service) Leave(ctx context.Context, roomID int64, id auth.Identity) error {
	r, err := s.store.FindRoom(ctx, roomID)
	if err != nil {
		return err
	}
	return s.store.RemoveMember(ctx, r.ID, id.ID)
}

// ListMembers returns everyone who may post in the room: the whole
// directory for a public room, the membership set for a private one.
func (s *Service) ListMembers(ctx context.Context, roomID int64, requester auth.Identity) ([]Member, error) {
	r, err := s.store.FindRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if r.IsPrivate {
		ok, err := s.access.CanRead(ctx, requester, r)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("members of room %d: %w", r.ID, apperr.ErrNotFound)
		}
		return s.store.ListMembers(ctx, r.ID)
	}

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	joined, err := s.store.ListMembers(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	byUser := lo.KeyBy(joined, func(m Member) int64 { return m.UserID })
	return lo.Map(users, func(u user.User, _ int) Member {
		m := Member{UserID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}
		if j, ok := byUser[u.ID]; ok {
			m.JoinedAt = j.JoinedAt
		}
		return m
	}), nil
}

// Assign grants userID membership out-of-band. Admin only; idempotent.
func (s *Service) Assign(ctx context.Context, admin auth.Identity, userID, roomID int64) error {
	if !admin.IsAdmin {
		return fmt.Errorf("assign room: %w", apperr.ErrForbidden)
	}
	r, err := s.store.FindRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		return err
	}
	inserted, err := s.store.AddMember(ctx, r.ID, userID, s.now())
	if err != nil {
		return err
	}
	s.log.Info("room assigned", "room_id", r.ID, "user_id", userID, "by", admin.ID, "created", inserted)
	return nil
}

// Revoke removes userID from the room out-of-band. Admin only.
func (s *Service) Revoke(ctx context.Context, admin auth.Identity, userID, roomID int64) error {
	if !admin.IsAdmin {
		return fmt.Errorf("revoke room: %w", apperr.ErrForbidden)
	}
	r, err := s.store.FindRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		return err
	}
	if err := s.store.RemoveMember(ctx, r.ID, userID); err != nil {
		return err
	}
	s.log.Info("room revoked", "room_id", r.ID, "user_id", userID, "by", admin.ID)
	return nil
}

// Users lists the directory with each user's private room grants. Admin only.
func (s *Service) Users(ctx context.Context, admin auth.Identity) ([]UserRooms, error) {
	if !admin.IsAdmin {
		return nil, fmt.Errorf("list users: %w", apperr.ErrForbidden)
	}
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	return s.withRooms(ctx, users)
}

// User returns one directory entry. Non-admins may only look themselves up.
func (s *Service) User(ctx context.Context, requester auth.Identity, userID int64) (UserRooms, error) {
	if !requester.IsAdmin && requester.ID != userID {
		return UserRooms{}, fmt.Errorf("show user %d: %w", userID, apperr.ErrForbidden)
	}
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return UserRooms{}, err
	}
	entries, err := s.withRooms(ctx, []user.User{*u})
	if err != nil {
		return UserRooms{}, err
	}
	return entries[0], nil
}

func (s *Service) withRooms(ctx context.Context, users []user.User) ([]UserRooms, error) {
	ids := lo.Map(users, func(u user.User, _ int) int64 { return u.ID })
	grants, err := s.store.PrivateRooms(ctx, ids)
	if err != nil {
		return nil, err
	}
	return lo.Map(users, func(u user.User, _ int) UserRooms {
		rooms := lo.CoalesceSliceOrEmpty(grants[u.ID])
		return UserRooms{User: u, Rooms: rooms, RoomsCount: len(rooms)}
	}), nil
}

// CanSubscribe gates websocket subscriptions to a room channel. A missing
// room is a plain denial.
func (s *Service) CanSubscribe(ctx context.Context, id auth.Identity, roomID int64) (bool, error) {
	r, err := s.store.FindRoom(ctx, roomID)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.access.CanSubscribe(ctx, id, r)
}

func (s *Service) ListRooms(ctx context.Context, id auth.Identity) ([]Room, error) {
	return s.store.ListVisibleRooms(ctx, id)
}

// CreateRoom is admin only; the creator becomes the first member.
func (s *Service) CreateRoom(ctx context.Context, admin auth.Identity, req CreateRoomRequest) (Room, error) {
	if !admin.IsAdmin {
		return Room{}, fmt.Errorf("create room: %w", apperr.ErrForbidden)
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		return Room{}, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	r := Room{
		CategoryID:  req.CategoryID,
		Name:        req.Name,
		Description: req.Description,
		IsPrivate:   req.IsPrivate,
	}
	if err := s.store.CreateRoom(ctx, &r, admin.ID, s.now()); err != nil {
		return Room{}, err
	}
	s.log.Info("room created", "room_id", r.ID, "private", r.IsPrivate, "by", admin.ID)
	return r, nil
}

func (s *Service) CreateCategory(ctx context.Context, admin auth.Identity, req CreateCategoryRequest) (Category, error) {
	if !admin.IsAdmin {
		return Category{}, fmt.Errorf("create category: %w", apperr.ErrForbidden)
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		return Category{}, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	c := Category{Name: req.Name}
	if err := s.store.CreateCategory(ctx, &c); err != nil {
		return Category{}, err
	}
	return c, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.store.ListCategories(ctx)
}

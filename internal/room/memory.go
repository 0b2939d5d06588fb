package room

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"roomchat/internal/apperr"
	"roomchat/internal/auth"
	"roomchat/internal/user"
)

// MemoryStore keeps rooms, categories, memberships and a user directory
// in-process. It satisfies Store and Directory and backs the service tests.
type MemoryStore struct {
	mu         sync.RWMutex
	nextID     int64
	rooms      map[int64]Room
	categories map[int64]Category
	members    map[int64]map[int64]time.Time // room -> user -> joined
	users      map[int64]user.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:      make(map[int64]Room),
		categories: make(map[int64]Category),
		members:    make(map[int64]map[int64]time.Time),
		users:      make(map[int64]user.User),
	}
}

// PutUser adds or replaces a directory entry.
func (m *MemoryStore) PutUser(u user.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// PutRoom stores a room as-is, assigning an id when zero.
func (m *MemoryStore) PutRoom(r Room) Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == 0 {
		m.nextID++
		r.ID = m.nextID
	}
	m.rooms[r.ID] = r
	return r
}

func (m *MemoryStore) FindRoom(_ context.Context, id int64) (Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return Room{}, fmt.Errorf("room %d: %w", id, apperr.ErrNotFound)
	}
	return r, nil
}

func (m *MemoryStore) IsMember(_ context.Context, roomID, userID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.members[roomID][userID]
	return ok, nil
}

func (m *MemoryStore) AddMember(_ context.Context, roomID, userID int64, joinedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.members[roomID]
	if !ok {
		set = make(map[int64]time.Time)
		m.members[roomID] = set
	}
	if _, exists := set[userID]; exists {
		return false, nil
	}
	set[userID] = joinedAt
	return true, nil
}

func (m *MemoryStore) RemoveMember(_ context.Context, roomID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members[roomID], userID)
	return nil
}

func (m *MemoryStore) ListMembers(_ context.Context, roomID int64) ([]Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := []Member{}
	for userID, joined := range m.members[roomID] {
		u := m.users[userID]
		members = append(members, Member{UserID: userID, Username: u.Username, IsAdmin: u.IsAdmin, JoinedAt: &joined})
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(*members[j].JoinedAt) {
			return members[i].JoinedAt.Before(*members[j].JoinedAt)
		}
		return members[i].UserID < members[j].UserID
	})
	return members, nil
}

func (m *MemoryStore) ListVisibleRooms(_ context.Context, id auth.Identity) ([]Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rooms := []Room{}
	for _, r := range m.rooms {
		_, member := m.members[r.ID][id.ID]
		if !r.IsPrivate || id.IsAdmin || member {
			rooms = append(rooms, r)
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

func (m *MemoryStore) PrivateRooms(_ context.Context, userIDs []int64) (map[int64][]Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64][]Room, len(userIDs))
	for _, userID := range userIDs {
		for roomID, set := range m.members {
			r := m.rooms[roomID]
			if _, ok := set[userID]; ok && r.IsPrivate {
				out[userID] = append(out[userID], r)
			}
		}
		sort.Slice(out[userID], func(i, j int) bool { return out[userID][i].ID < out[userID][j].ID })
	}
	return out, nil
}

func (m *MemoryStore) CreateRoom(_ context.Context, r *Room, creatorID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[r.CategoryID]; !ok {
		return fmt.Errorf("%w: category %d does not exist", apperr.ErrValidation, r.CategoryID)
	}
	m.nextID++
	r.ID = m.nextID
	r.CreatedAt = at
	m.rooms[r.ID] = *r
	m.members[r.ID] = map[int64]time.Time{creatorID: at}
	return nil
}

func (m *MemoryStore) CreateCategory(_ context.Context, c *Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c.ID = m.nextID
	c.CreatedAt = time.Now().UTC()
	m.categories[c.ID] = *c
	return nil
}

func (m *MemoryStore) ListCategories(context.Context) ([]Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	categories := make([]Category, 0, len(m.categories))
	for _, c := range m.categories {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].ID < categories[j].ID })
	return categories, nil
}

func (m *MemoryStore) ListUsers(context.Context) ([]user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]user.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id int64) (*user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, apperr.ErrNotFound)
	}
	return &u, nil
}

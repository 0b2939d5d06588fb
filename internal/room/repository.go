package room

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"roomchat/internal/apperr"
	"roomchat/internal/auth"

	"github.com/jackc/pgx/v5/pgconn"
)

const foreignKeyViolation = "23503"

// Repository is the Postgres Store. Membership rows rely on the
// (room_id, user_id) primary key for uniqueness.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FindRoom(ctx context.Context, id int64) (Room, error) {
	var rm Room
	query := `SELECT id, category_id, name, description, is_private, created_at FROM rooms WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&rm.ID, &rm.CategoryID, &rm.Name, &rm.Description, &rm.IsPrivate, &rm.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Room{}, fmt.Errorf("room %d: %w", id, apperr.ErrNotFound)
		}
		return Room{}, err
	}
	return rm, nil
}

func (r *Repository) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`
	if err := r.db.QueryRowContext(ctx, query, roomID, userID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// AddMember inserts the relation and reports whether a row was created. A
// concurrent duplicate loses on the primary key and reports false.
func (r *Repository) AddMember(ctx context.Context, roomID, userID int64, joinedAt time.Time) (bool, error) {
	query := `
		INSERT INTO room_members (room_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (room_id, user_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, roomID, userID, joinedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Repository) RemoveMember(ctx context.Context, roomID, userID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM room_members WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	return err
}

func (r *Repository) ListMembers(ctx context.Context, roomID int64) ([]Member, error) {
	query := `
		SELECT u.id, u.username, u.is_admin, m.joined_at
		FROM room_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = $1
		ORDER BY m.joined_at, u.id`
	rows, err := r.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		var m Member
		var joinedAt time.Time
		if err := rows.Scan(&m.UserID, &m.Username, &m.IsAdmin, &joinedAt); err != nil {
			return nil, err
		}
		m.JoinedAt = &joinedAt
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListVisibleRooms returns public rooms plus the private rooms id may read.
func (r *Repository) ListVisibleRooms(ctx context.Context, id auth.Identity) ([]Room, error) {
	query := `
		SELECT r.id, r.category_id, r.name, r.description, r.is_private, r.created_at
		FROM rooms r
		WHERE r.is_private = FALSE
		   OR $2
		   OR EXISTS (SELECT 1 FROM room_members m WHERE m.room_id = r.id AND m.user_id = $1)
		ORDER BY r.category_id, r.name, r.id`
	rows, err := r.db.QueryContext(ctx, query, id.ID, id.IsAdmin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []Room{}
	for rows.Next() {
		var rm Room
		if err := rows.Scan(&rm.ID, &rm.CategoryID, &rm.Name, &rm.Description, &rm.IsPrivate, &rm.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, rm)
	}
	return rooms, rows.Err()
}

// PrivateRooms groups the private rooms each of userIDs was granted.
func (r *Repository) PrivateRooms(ctx context.Context, userIDs []int64) (map[int64][]Room, error) {
	out := make(map[int64][]Room, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	query := `
		SELECT m.user_id, r.id, r.category_id, r.name, r.description, r.is_private, r.created_at
		FROM room_members m
		JOIN rooms r ON r.id = m.room_id
		WHERE r.is_private AND m.user_id = ANY($1)
		ORDER BY m.user_id, r.id`
	rows, err := r.db.QueryContext(ctx, query, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var userID int64
		var rm Room
		if err := rows.Scan(&userID, &rm.ID, &rm.CategoryID, &rm.Name, &rm.Description, &rm.IsPrivate, &rm.CreatedAt); err != nil {
			return nil, err
		}
		out[userID] = append(out[userID], rm)
	}
	return out, rows.Err()
}

// CreateRoom inserts the room and attaches its creator in one transaction,
// so a private room never exists without a member.
func (r *Repository) CreateRoom(ctx context.Context, rm *Room, creatorID int64, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO rooms (category_id, name, description, is_private, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if err := tx.QueryRowContext(ctx, query, rm.CategoryID, rm.Name, rm.Description, rm.IsPrivate, at).Scan(&rm.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return fmt.Errorf("%w: category %d does not exist", apperr.ErrValidation, rm.CategoryID)
		}
		return err
	}
	rm.CreatedAt = at

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id, joined_at) VALUES ($1, $2, $3)`,
		rm.ID, creatorID, at); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) CreateCategory(ctx context.Context, c *Category) error {
	query := `INSERT INTO categories (name) VALUES ($1) RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query, c.Name).Scan(&c.ID, &c.CreatedAt)
}

func (r *Repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, created_at FROM categories ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

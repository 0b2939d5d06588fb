package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"roomchat/internal/apperr"

	"github.com/jackc/pgx/v5/pgconn"
)

const foreignKeyViolation = "23503"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const messageColumns = `m.id, m.room_id, m.author_id, u.username, m.content,
	m.attachment_path, m.attachment_name, m.is_edited, m.edited_at, m.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		m              Message
		path, fileName sql.NullString
		editedAt       sql.NullTime
	)
	err := row.Scan(&m.ID, &m.RoomID, &m.AuthorID, &m.Author.Username, &m.Content,
		&path, &fileName, &m.IsEdited, &editedAt, &m.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	m.Author.ID = m.AuthorID
	if path.Valid {
		m.Attachment = &Attachment{Path: path.String, Name: fileName.String}
	}
	if editedAt.Valid {
		t := editedAt.Time
		m.EditedAt = &t
	}
	return m, nil
}

func (r *Repository) CreateMessage(ctx context.Context, m *Message) error {
	var path, fileName sql.NullString
	if m.Attachment != nil {
		path = sql.NullString{String: m.Attachment.Path, Valid: true}
		fileName = sql.NullString{String: m.Attachment.Name, Valid: true}
	}
	query := `
		WITH m AS (
			INSERT INTO messages (room_id, author_id, content, attachment_path, attachment_name, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING *
		)
		SELECT ` + messageColumns + `
		FROM m JOIN users u ON u.id = m.author_id`
	saved, err := scanMessage(r.db.QueryRowContext(ctx, query, m.RoomID, m.AuthorID, m.Content, path, fileName, m.CreatedAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return fmt.Errorf("room %d: %w", m.RoomID, apperr.ErrNotFound)
		}
		return err
	}
	*m = saved
	return nil
}

func (r *Repository) FindMessage(ctx context.Context, id int64) (Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages m JOIN users u ON u.id = m.author_id WHERE m.id = $1`
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, fmt.Errorf("message %d: %w", id, apperr.ErrNotFound)
	}
	return m, err
}

// UpdateContent applies an edit; a message deleted in the meantime is not found.
func (r *Repository) UpdateContent(ctx context.Context, id int64, content string, editedAt time.Time) (Message, error) {
	query := `
		WITH m AS (
			UPDATE messages SET content = $2, is_edited = TRUE, edited_at = $3
			WHERE id = $1
			RETURNING *
		)
		SELECT ` + messageColumns + `
		FROM m JOIN users u ON u.id = m.author_id`
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, id, content, editedAt))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, fmt.Errorf("message %d: %w", id, apperr.ErrNotFound)
	}
	return m, err
}

// DeleteMessage removes the row (receipts cascade) and returns what was
// removed. Of two concurrent deletes only one sees the row.
func (r *Repository) DeleteMessage(ctx context.Context, id int64) (Message, error) {
	query := `
		WITH m AS (
			DELETE FROM messages WHERE id = $1
			RETURNING *
		)
		SELECT ` + messageColumns + `
		FROM m JOIN users u ON u.id = m.author_id`
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, fmt.Errorf("message %d: %w", id, apperr.ErrNotFound)
	}
	return m, err
}

// ListMessages orders newest first; ties on created_at fall back to id.
func (r *Repository) ListMessages(ctx context.Context, roomID int64, limit, offset int) ([]Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m
		JOIN users u ON u.id = m.author_id
		WHERE m.room_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *Repository) CountMessages(ctx context.Context, roomID int64) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM messages WHERE room_id = $1`, roomID).Scan(&n)
	return n, err
}

func (r *Repository) AddRead(ctx context.Context, messageID, userID int64, readAt time.Time) (bool, error) {
	query := `
		INSERT INTO message_reads (message_id, user_id, read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, messageID, userID, readAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return false, fmt.Errorf("message %d: %w", messageID, apperr.ErrNotFound)
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Repository) ListReads(ctx context.Context, messageIDs []int64) (map[int64][]ReadReceipt, error) {
	reads := make(map[int64][]ReadReceipt, len(messageIDs))
	if len(messageIDs) == 0 {
		return reads, nil
	}
	query := `
		SELECT r.message_id, r.user_id, u.username, r.read_at
		FROM message_reads r
		JOIN users u ON u.id = r.user_id
		WHERE r.message_id = ANY($1)
		ORDER BY r.read_at, r.user_id`
	rows, err := r.db.QueryContext(ctx, query, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rr ReadReceipt
		if err := rows.Scan(&rr.MessageID, &rr.UserID, &rr.Username, &rr.ReadAt); err != nil {
			return nil, err
		}
		reads[rr.MessageID] = append(reads[rr.MessageID], rr)
	}
	return reads, rows.Err()
}

// UnreadCount is recomputed on every call; there is no stored counter to drift.
func (r *Repository) UnreadCount(ctx context.Context, roomID, userID int64) (int64, error) {
	query := `
		SELECT count(*)
		FROM messages m
		WHERE m.room_id = $1
		  AND m.author_id <> $2
		  AND NOT EXISTS (
			SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = $2
		  )`
	var n int64
	err := r.db.QueryRowContext(ctx, query, roomID, userID).Scan(&n)
	return n, err
}

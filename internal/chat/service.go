package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"roomchat/internal/apperr"
	"roomchat/internal/auth"
	"roomchat/internal/room"
	"roomchat/internal/storage"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

const publishTimeout = 2 * time.Second

// RoomFinder resolves room metadata; missing rooms are apperr.ErrNotFound.
type RoomFinder interface {
	Room(ctx context.Context, id int64) (room.Room, error)
}

// Authorizer is the access evaluator as seen by the messaging service.
type Authorizer interface {
	CanRead(ctx context.Context, id auth.Identity, r room.Room) (bool, error)
	CanWrite(ctx context.Context, id auth.Identity, r room.Room) (bool, error)
}

type Options struct {
	MaxContentLength int
	MaxUploadBytes   int64
	DefaultPageSize  int
	MaxPageSize      int
}

// Service orchestrates the message lifecycle and read receipts. Every
// operation re-checks room access, mutates the store, then publishes the
// resulting event best-effort.
type Service struct {
	store    Store
	rooms    RoomFinder
	access   Authorizer
	blobs    storage.BlobStore
	bus      Publisher
	opts     Options
	validate *validator.Validate
	log      *slog.Logger
	now      func() time.Time
}

// NewService wires the service. blobs may be nil, which disables attachments.
func NewService(store Store, rooms RoomFinder, access Authorizer, blobs storage.BlobStore, bus Publisher, opts Options, log *slog.Logger) *Service {
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = 5000
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 50
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = opts.DefaultPageSize
	}
	return &Service{
		store:    store,
		rooms:    rooms,
		access:   access,
		blobs:    blobs,
		bus:      bus,
		opts:     opts,
		validate: validator.New(),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) validContent(content string) error {
	rule := fmt.Sprintf("required,max=%d", s.opts.MaxContentLength)
	if err := s.validate.Var(content, rule); err != nil {
		return fmt.Errorf("%w: content must be 1 to %d characters", apperr.ErrValidation, s.opts.MaxContentLength)
	}
	return nil
}

func (s *Service) readableRoom(ctx context.Context, id auth.Identity, roomID int64) (room.Room, error) {
	r, err := s.rooms.Room(ctx, roomID)
	if err != nil {
		return room.Room{}, err
	}
	ok, err := s.access.CanRead(ctx, id, r)
	if err != nil {
		return room.Room{}, err
	}
	if !ok {
		// hidden rooms look exactly like missing ones
		return room.Room{}, fmt.Errorf("read room %d: %w", r.ID, apperr.ErrNotFound)
	}
	return r, nil
}

// Send posts a message, optionally with an attachment, into a room the
// author may write to.
func (s *Service) Send(ctx context.Context, author auth.Identity, req SendRequest, upload *Upload) (Message, error) {
	if err := s.validate.Struct(req); err != nil {
		return Message{}, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	if err := s.validContent(req.Content); err != nil {
		return Message{}, err
	}
	r, err := s.rooms.Room(ctx, req.RoomID)
	if err != nil {
		return Message{}, err
	}
	ok, err := s.access.CanWrite(ctx, author, r)
	if err != nil {
		return Message{}, err
	}
	if !ok {
		return Message{}, fmt.Errorf("write room %d: %w", r.ID, apperr.ErrForbidden)
	}

	msg := Message{
		RoomID:    r.ID,
		AuthorID:  author.ID,
		Content:   req.Content,
		CreatedAt: s.now(),
	}
	if upload != nil {
		att, err := s.storeUpload(ctx, upload)
		if err != nil {
			return Message{}, err
		}
		msg.Attachment = att
	}

	if err := s.store.CreateMessage(ctx, &msg); err != nil {
		if msg.Attachment != nil {
			s.deleteBlob(ctx, msg.Attachment.Path)
		}
		return Message{}, err
	}
	msg.Reads = []ReadReceipt{}

	s.log.Debug("message sent", "message_id", msg.ID, "room_id", r.ID, "author_id", author.ID)
	s.publish(ctx, MessageCreated, r.ID, msg)
	return msg, nil
}

func (s *Service) storeUpload(ctx context.Context, u *Upload) (*Attachment, error) {
	if s.blobs == nil {
		return nil, fmt.Errorf("%w: attachments are disabled", apperr.ErrValidation)
	}
	if u.Size <= 0 || u.Size > s.opts.MaxUploadBytes {
		return nil, fmt.Errorf("%w: attachment must be 1 to %d bytes", apperr.ErrValidation, s.opts.MaxUploadBytes)
	}
	key := storage.AttachmentKey(u.Name)
	contentType := u.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.blobs.Put(ctx, key, u.Body, u.Size, contentType); err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}
	return &Attachment{Path: key, Name: u.Name}, nil
}

// Edit replaces the content of the editor's own message. Admins cannot edit
// other people's messages; they can only delete them.
func (s *Service) Edit(ctx context.Context, editor auth.Identity, messageID int64, content string) (Message, error) {
	msg, err := s.store.FindMessage(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if err := s.validContent(content); err != nil {
		return Message{}, err
	}
	if msg.AuthorID != editor.ID {
		return Message{}, fmt.Errorf("edit message %d: %w", messageID, apperr.ErrForbidden)
	}
	updated, err := s.store.UpdateContent(ctx, messageID, content, s.now())
	if err != nil {
		return Message{}, err
	}
	if err := s.attachReads(ctx, []*Message{&updated}); err != nil {
		return Message{}, err
	}

	s.publish(ctx, MessageUpdated, updated.RoomID, updated)
	return updated, nil
}

// Delete removes a message for good. Only its author or an admin may do so.
func (s *Service) Delete(ctx context.Context, actor auth.Identity, messageID int64) error {
	msg, err := s.store.FindMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.AuthorID != actor.ID && !actor.IsAdmin {
		return fmt.Errorf("delete message %d: %w", messageID, apperr.ErrForbidden)
	}
	deleted, err := s.store.DeleteMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if deleted.Attachment != nil {
		s.deleteBlob(ctx, deleted.Attachment.Path)
	}

	s.log.Info("message deleted", "message_id", messageID, "room_id", deleted.RoomID, "by", actor.ID)
	s.publish(ctx, MessageDeleted, deleted.RoomID, DeletedPayload{RoomID: deleted.RoomID, MessageID: deleted.ID})
	return nil
}

// List returns one page of a room's history, newest first, with authors and
// read receipts included.
func (s *Service) List(ctx context.Context, requester auth.Identity, roomID int64, page, perPage int) (Page, error) {
	r, err := s.readableRoom(ctx, requester, roomID)
	if err != nil {
		return Page{}, err
	}
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = s.opts.DefaultPageSize
	}
	if perPage > s.opts.MaxPageSize {
		perPage = s.opts.MaxPageSize
	}

	total, err := s.store.CountMessages(ctx, r.ID)
	if err != nil {
		return Page{}, err
	}
	msgs, err := s.store.ListMessages(ctx, r.ID, perPage, (page-1)*perPage)
	if err != nil {
		return Page{}, err
	}
	ptrs := make([]*Message, len(msgs))
	for i := range msgs {
		ptrs[i] = &msgs[i]
	}
	if err := s.attachReads(ctx, ptrs); err != nil {
		return Page{}, err
	}

	lastPage := int((total + int64(perPage) - 1) / int64(perPage))
	if lastPage < 1 {
		lastPage = 1
	}
	return Page{Data: msgs, CurrentPage: page, PerPage: perPage, Total: total, LastPage: lastPage}, nil
}

// Get fetches one message through its room's read gate.
func (s *Service) Get(ctx context.Context, requester auth.Identity, messageID int64) (Message, error) {
	msg, err := s.store.FindMessage(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if _, err := s.readableRoom(ctx, requester, msg.RoomID); err != nil {
		return Message{}, err
	}
	if err := s.attachReads(ctx, []*Message{&msg}); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// MarkRead records that reader has seen the message and returns the
// message's full receipt set. Receipts are append-only: a second call is
// reported as apperr.ErrAlreadyRead and changes nothing.
func (s *Service) MarkRead(ctx context.Context, reader auth.Identity, messageID int64) ([]ReadReceipt, error) {
	msg, err := s.store.FindMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.readableRoom(ctx, reader, msg.RoomID); err != nil {
		return nil, err
	}
	if msg.AuthorID == reader.ID {
		return nil, fmt.Errorf("mark message %d read: %w", messageID, apperr.ErrInvalidSelfRead)
	}
	inserted, err := s.store.AddRead(ctx, messageID, reader.ID, s.now())
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, fmt.Errorf("mark message %d read: %w", messageID, apperr.ErrAlreadyRead)
	}
	reads, err := s.store.ListReads(ctx, []int64{messageID})
	if err != nil {
		return nil, err
	}
	return lo.CoalesceSliceOrEmpty(reads[messageID]), nil
}

// UnreadCount counts messages in the room written by others that requester
// has no receipt for.
func (s *Service) UnreadCount(ctx context.Context, requester auth.Identity, roomID int64) (int64, error) {
	r, err := s.readableRoom(ctx, requester, roomID)
	if err != nil {
		return 0, err
	}
	return s.store.UnreadCount(ctx, r.ID, requester.ID)
}

func (s *Service) attachReads(ctx context.Context, msgs []*Message) error {
	ids := lo.Map(msgs, func(m *Message, _ int) int64 { return m.ID })
	reads, err := s.store.ListReads(ctx, ids)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		m.Reads = lo.CoalesceSliceOrEmpty(reads[m.ID])
	}
	return nil
}

func (s *Service) deleteBlob(ctx context.Context, key string) {
	if s.blobs == nil {
		return
	}
	if err := s.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.log.Warn("attachment delete failed", "key", key, "error", err)
	}
}

// publish hands the event to the bus. Delivery is best-effort: failures are
// logged and never reach the caller, whose mutation already succeeded.
func (s *Service) publish(ctx context.Context, t EventType, roomID int64, payload any) {
	if s.bus == nil {
		return
	}
	evt, err := NewEvent(t, roomID, originFrom(ctx), payload)
	if err != nil {
		s.log.Error("event encode failed", "type", t, "room_id", roomID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.bus.Publish(ctx, evt); err != nil {
		s.log.Warn("event publish failed", "type", t, "room_id", roomID, "error", err)
	}
}

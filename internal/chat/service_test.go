package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"roomchat/internal/apperr"
	"roomchat/internal/auth"
	"roomchat/internal/room"
	"roomchat/internal/storage"
	"roomchat/internal/storage/mocks"
	"roomchat/internal/user"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	alice = auth.Identity{ID: 1}
	bob   = auth.Identity{ID: 2}
	carol = auth.Identity{ID: 3}
	admin = auth.Identity{ID: 4, IsAdmin: true}
)

type recordingBus struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (b *recordingBus) Publish(_ context.Context, evt Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, evt)
	return nil
}

func (b *recordingBus) last() Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return Event{}
	}
	return b.events[len(b.events)-1]
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

type fixture struct {
	svc       *Service
	rooms     *room.Service
	roomStore *room.MemoryStore
	store     *MemoryStore
	bus       *recordingBus
}

func newFixture(t *testing.T, blobs storage.BlobStore) *fixture {
	t.Helper()
	roomStore := room.NewMemoryStore()
	store := NewMemoryStore()
	for _, u := range []user.User{
		{ID: 1, Username: "alice"},
		{ID: 2, Username: "bob"},
		{ID: 3, Username: "carol"},
		{ID: 4, Username: "root", IsAdmin: true},
	} {
		roomStore.PutUser(u)
		store.PutAuthor(u.ID, u.Username)
	}

	rooms := room.NewService(roomStore, roomStore, slog.Default())
	bus := &recordingBus{}
	svc := NewService(store, rooms, rooms.Access(), blobs, bus, Options{
		MaxContentLength: 20,
		MaxUploadBytes:   1024,
		DefaultPageSize:  2,
		MaxPageSize:      3,
	}, slog.Default())

	clock := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return &fixture{svc: svc, rooms: rooms, roomStore: roomStore, store: store, bus: bus}
}

func (f *fixture) send(t *testing.T, author auth.Identity, roomID int64, content string) Message {
	t.Helper()
	msg, err := f.svc.Send(context.Background(), author, SendRequest{RoomID: roomID, Content: content}, nil)
	require.NoError(t, err)
	return msg
}

func TestService_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("anyone may post to a public room", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, nil)
		general := f.roomStore.PutRoom(room.Room{Name: "general"})

		msg, err := f.svc.Send(WithOrigin(ctx, "sock-1"), bob, SendRequest{RoomID: general.ID, Content: "hello"}, nil)
		req.NoError(err)
		req.NotZero(msg.ID)
		req.False(msg.IsEdited)
		req.Nil(msg.EditedAt)
		req.Equal("bob", msg.Author.Username)
		req.NotNil(msg.Reads)
		req.Empty(msg.Reads)

		evt := f.bus.last()
		req.Equal(MessageCreated, evt.Type)
		req.Equal(general.ID, evt.RoomID)
		req.Equal("sock-1", evt.OriginID)
	})

	t.Run("private room rejects outsiders", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, nil)
		exec := f.roomStore.PutRoom(room.Room{Name: "exec", IsPrivate: true})

		_, err := f.svc.Send(ctx, bob, SendRequest{RoomID: exec.ID, Content: "hi"}, nil)
		req.ErrorIs(err, apperr.ErrForbidden)
		req.Zero(f.bus.count())

		_, err = f.svc.Send(ctx, admin, SendRequest{RoomID: exec.ID, Content: "hi"}, nil)
		req.NoError(err)
	})

	t.Run("content is validated", func(t *testing.T) {
		f := newFixture(t, nil)
		general := f.roomStore.PutRoom(room.Room{Name: "general"})

		for name, content := range map[string]string{
			"empty":    "",
			"too long": strings.Repeat("x", 21),
		} {
			t.Run(name, func(t *testing.T) {
				_, err := f.svc.Send(ctx, bob, SendRequest{RoomID: general.ID, Content: content}, nil)
				require.ErrorIs(t, err, apperr.ErrValidation)
			})
		}
	})

	t.Run("unknown room is not found", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.Send(ctx, bob, SendRequest{RoomID: 99, Content: "hi"}, nil)
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("publish failure does not fail the send", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, nil)
		f.bus.err = errors.New("broker down")
		general := f.roomStore.PutRoom(room.Room{Name: "general"})

		msg, err := f.svc.Send(ctx, bob, SendRequest{RoomID: general.ID, Content: "hi"}, nil)
		req.NoError(err)

		stored, err := f.store.FindMessage(ctx, msg.ID)
		req.NoError(err)
		req.Equal("hi", stored.Content)
	})

	t.Run("attachments are rejected without a blob store", func(t *testing.T) {
		f := newFixture(t, nil)
		general := f.roomStore.PutRoom(room.Room{Name: "general"})
		upload := &Upload{Name: "a.txt", Size: 3, Body: strings.NewReader("abc")}

		_, err := f.svc.Send(ctx, bob, SendRequest{RoomID: general.ID, Content: "file"}, upload)
		require.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("attachment is stored under a message key", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		blobs := mocks.NewMockBlobStore(ctrl)
		f := newFixture(t, blobs)
		general := f.roomStore.PutRoom(room.Room{Name: "general"})

		var storedKey string
		blobs.EXPECT().
			Put(gomock.Any(), gomock.Any(), gomock.Any(), int64(3), "text/plain").
			DoAndReturn(func(_ context.Context, key string, _ io.Reader, _ int64, _ string) error {
				storedKey = key
				return nil
			})

		upload := &Upload{Name: "notes.txt", ContentType: "text/plain", Size: 3, Body: strings.NewReader("abc")}
		msg, err := f.svc.Send(ctx, bob, SendRequest{RoomID: general.ID, Content: "file"}, upload)
		req.NoError(err)
		req.NotNil(msg.Attachment)
		req.Equal("notes.txt", msg.Attachment.Name)
		req.Equal(storedKey, msg.Attachment.Path)
		req.True(strings.HasPrefix(storedKey, "messages/"))
	})

	t.Run("oversized attachment never reaches the blob store", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		blobs := mocks.NewMockBlobStore(ctrl)
		f := newFixture(t, blobs)
		general := f.roomStore.PutRoom(room.Room{Name: "general"})

		upload := &Upload{Name: "big.bin", Size: 2048, Body: strings.NewReader("")}
		_, err := f.svc.Send(ctx, bob, SendRequest{RoomID: general.ID, Content: "file"}, upload)
		require.ErrorIs(t, err, apperr.ErrValidation)
	})
}

func TestService_Edit(t *testing.T) {
	ctx := context.Background()

	t.Run("author edit marks the message edited", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, nil)
		general := f.roomStore.PutRoom(room.Room{Name: "general"})
		msg := f.send(t, alice, general.ID, "hello")

		edited, err := f.svc.Edit(ctx, alice, msg.ID, "hello!")
		req.NoError(err)
		req.Equal("hello!", edited.Content)
		req.True(edited.IsEdited)
		req.NotNil(edited.EditedAt)
		req.Equal(MessageUpdated, f.bus.last().Type)
	})

	t.Run("non-authors cannot edit, admins included", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, nil)
		general := f.roomStore.PutRoom(room.Room{Name: "general"})
		msg := f.send(t, alice, general.ID, "hello")

		_, err := f.svc.Edit(ctx, bob, msg.ID, "hijack")
		req.ErrorIs(err, apperr.ErrForbidden)
		_, err = f.svc.Edit(ctx, admin, msg.ID, "hijack")
		req.ErrorIs(err, apperr.ErrForbidden)

		stored, err := f.store.FindMessage(ctx, msg.ID)
		req.NoError(err)
		req.Equal("hello", stored.Content)
		req.False(stored.IsEdited)
	})

	t.Run("deleted message is not found", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, nil)
		general := f.roomStore.PutRoom(room.Room{Name: "general"})
		msg := f.send(t, alice, general.ID, "hello")
		req.NoError(f.svc.Delete(ctx, alice, msg.ID))

		_, err := f.svc.Edit(ctx, alice, msg.ID, "again")
		req.ErrorIs(err, apperr.ErrNotFound)

		for _, content := range []string{"", strings.Repeat("x", 21)} {
			_, err := f.svc.Edit(ctx, alice, msg.ID, content)
			req.ErrorIs(err, apperr.ErrNotFound)
		}
	})

	t.Run("bad content on a live message is a validation error", func(t *testing.T) {
		f := newFixture(t, nil)
		general := f.roomStore.PutRoom(room.Room{Name: "general"})
		msg := f.send(t, alice, general.ID, "hello")

		_, err := f.svc.Edit(ctx, alice, msg.ID, "")
		require.ErrorIs(t, err, apperr.ErrValidation)
	})
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("deletion event carries only ids", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, nil)
		general := f.roomStore.PutRoom(room.Room{Name: "general"})
		msg := f.send(t, alice, general.ID, "secret")

		req.NoError(f.svc.Delete(WithOrigin(ctx, "sock-a"), alice, msg.ID))

		evt := f.bus.last()
		req.Equal(MessageDeleted, evt.Type)
		req.Equal("sock-a", evt.OriginID)
		req.JSONEq(`{"roomId":1,"messageId":1}`, string(evt.Payload))
		req.NotContains(string(evt.Payload), "secret")
	})

	t.Run("removes the message from history and unread counts", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, nil)
		general := f.roomStore.PutRoom(room.Room{Name: "general"})
		read := f.send(t, alice, general.ID, "one")
		unread := f.send(t, alice, general.ID, "two")
		_, err := f.svc.MarkRead(ctx, bob, read.ID)
		req.NoError(err)

		n, err := f.svc.UnreadCount(ctx, bob, general.ID)
		req.NoError(err)
		req.EqualValues(1, n)

		req.NoError(f.svc.Delete(ctx, alice, unread.ID))
		req.NoError(f.svc.Delete(ctx, admin, read.ID))

		n, err = f.svc.UnreadCount(ctx, bob, general.ID)
		req.NoError(err)
		req.Zero(n)

		page, err := f.svc.List(ctx, bob, general.ID, 1, 0)
		req.NoError(err)
		req.Empty(page.Data)
		req.Zero(page.Total)
	})

	t.Run("attachment blob is removed and its failure is tolerated", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		blobs := mocks.NewMockBlobStore(ctrl)
		f := newFixture(t, blobs)
		general := f.roomStore.PutRoom(room.Room{Name: "general"})

		blobs.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
		msg, err := f.svc.Send(ctx, alice, SendRequest{RoomID: general.ID, Content: "pic"},
			&Upload{Name: "cat.png", Size: 3, Body: strings.NewReader("png")})
		req.NoError(err)

		blobs.EXPECT().Delete(gomock.Any(), msg.Attachment.Path).Return(errors.New("bucket gone"))
		req.NoError(f.svc.Delete(ctx, alice, msg.ID))

		_, err = f.store.FindMessage(ctx, msg.ID)
		req.ErrorIs(err, apperr.ErrNotFound)
	})

	t.Run("others cannot delete", func(t *testing.T) {
		f := newFixture(t, nil)
		general := f.roomStore.PutRoom(room.Room{Name: "general"})
		msg := f.send(t, alice, general.ID, "mine")

		require.ErrorIs(t, f.svc.Delete(ctx, carol, msg.ID), apperr.ErrForbidden)
	})
}

func TestService_List(t *testing.T) {
	ctx := context.Background()

	t.Run("newest first with page envelope", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, nil)
		general := f.roomStore.PutRoom(room.Room{Name: "general"})
		for _, c := range []string{"m1", "m2", "m3"} {
			f.send(t, alice, general.ID, c)
		}

		page, err := f.svc.List(ctx, bob, general.ID, 1, 0)
		req.NoError(err)
		req.Equal(1, page.CurrentPage)
		req.Equal(2, page.PerPage)
		req.EqualValues(3, page.Total)
		req.Equal(2, page.LastPage)
		req.Len(page.Data, 2)
		req.Equal("m3", page.Data[0].Content)
		req.Equal("m2", page.Data[1].Content)

		page, err = f.svc.List(ctx, bob, general.ID, 2, 0)
		req.NoError(err)
		req.Len(page.Data, 1)
		req.Equal("m1", page.Data[0].Content)
	})

	t.Run("per page is clamped", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, nil)
		general := f.roomStore.PutRoom(room.Room{Name: "general"})

		page, err := f.svc.List(ctx, bob, general.ID, -3, 500)
		req.NoError(err)
		req.Equal(1, page.CurrentPage)
		req.Equal(3, page.PerPage)
		req.Equal(1, page.LastPage)
		req.NotNil(page.Data)
	})

	t.Run("entries carry their read receipts", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, nil)
		general := f.roomStore.PutRoom(room.Room{Name: "general"})
		msg := f.send(t, alice, general.ID, "hello")
		_, err := f.svc.MarkRead(ctx, bob, msg.ID)
		req.NoError(err)

		page, err := f.svc.List(ctx, carol, general.ID, 1, 0)
		req.NoError(err)
		req.Len(page.Data, 1)
		req.Len(page.Data[0].Reads, 1)
		req.Equal("bob", page.Data[0].Reads[0].Username)
	})

	t.Run("private history needs membership", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, nil)
		exec := f.roomStore.PutRoom(room.Room{Name: "exec", IsPrivate: true})
		_, err := f.roomStore.AddMember(ctx, exec.ID, alice.ID, time.Now())
		req.NoError(err)
		msg := f.send(t, alice, exec.ID, "plans")

		_, err = f.svc.List(ctx, bob, exec.ID, 1, 0)
		req.ErrorIs(err, apperr.ErrNotFound)
		_, err = f.svc.Get(ctx, bob, msg.ID)
		req.ErrorIs(err, apperr.ErrNotFound)

		_, err = f.svc.List(ctx, admin, exec.ID, 1, 0)
		req.NoError(err)
	})

	t.Run("hidden and missing look the same", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, nil)
		exec := f.roomStore.PutRoom(room.Room{Name: "exec", IsPrivate: true})
		msg := f.send(t, admin, exec.ID, "plans")

		_, hidden := f.svc.Get(ctx, bob, msg.ID)
		_, missing := f.svc.Get(ctx, bob, 9999)
		hiddenStatus, hiddenBody := apperr.Classify(hidden)
		missingStatus, missingBody := apperr.Classify(missing)
		req.Equal(missingStatus, hiddenStatus)
		req.Equal(missingBody, hiddenBody)

		_, hidden = f.svc.List(ctx, bob, exec.ID, 1, 0)
		_, missing = f.svc.List(ctx, bob, 9999, 1, 0)
		hiddenStatus, hiddenBody = apperr.Classify(hidden)
		missingStatus, missingBody = apperr.Classify(missing)
		req.Equal(missingStatus, hiddenStatus)
		req.Equal(missingBody, hiddenBody)

		_, hidden = f.svc.MarkRead(ctx, bob, msg.ID)
		_, missing = f.svc.MarkRead(ctx, bob, 9999)
		hiddenStatus, _ = apperr.Classify(hidden)
		missingStatus, _ = apperr.Classify(missing)
		req.Equal(missingStatus, hiddenStatus)
	})
}

func TestService_MarkRead(t *testing.T) {
	ctx := context.Background()

	t.Run("second read is rejected and counts move once", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, nil)
		general := f.roomStore.PutRoom(room.Room{Name: "general"})
		msg := f.send(t, alice, general.ID, "hello")

		before, err := f.svc.UnreadCount(ctx, bob, general.ID)
		req.NoError(err)

		reads, err := f.svc.MarkRead(ctx, bob, msg.ID)
		req.NoError(err)
		req.Len(reads, 1)

		after, err := f.svc.UnreadCount(ctx, bob, general.ID)
		req.NoError(err)
		req.Equal(before-1, after)

		_, err = f.svc.MarkRead(ctx, bob, msg.ID)
		req.ErrorIs(err, apperr.ErrAlreadyRead)

		again, err := f.svc.UnreadCount(ctx, bob, general.ID)
		req.NoError(err)
		req.Equal(after, again)

		stored, err := f.store.ListReads(ctx, []int64{msg.ID})
		req.NoError(err)
		req.Len(stored[msg.ID], 1)
	})

	t.Run("concurrent reads leave one receipt", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, nil)
		general := f.roomStore.PutRoom(room.Room{Name: "general"})
		msg := f.send(t, alice, general.ID, "hello")

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.MarkRead(ctx, carol, msg.ID)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		succeeded := 0
		for err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			req.ErrorIs(err, apperr.ErrAlreadyRead)
		}
		req.Equal(1, succeeded)
	})

	t.Run("authors cannot read their own message", func(t *testing.T) {
		f := newFixture(t, nil)
		general := f.roomStore.PutRoom(room.Room{Name: "general"})
		msg := f.send(t, alice, general.ID, "hello")

		_, err := f.svc.MarkRead(ctx, alice, msg.ID)
		require.ErrorIs(t, err, apperr.ErrInvalidSelfRead)
	})

	t.Run("missing message is not found", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.MarkRead(ctx, bob, 404)
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("private room gate applies", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, nil)
		exec := f.roomStore.PutRoom(room.Room{Name: "exec", IsPrivate: true})
		msg := f.send(t, admin, exec.ID, "board minutes")

		_, err := f.svc.MarkRead(ctx, bob, msg.ID)
		req.ErrorIs(err, apperr.ErrNotFound)
		_, err = f.svc.UnreadCount(ctx, bob, exec.ID)
		req.ErrorIs(err, apperr.ErrNotFound)
	})
}

func TestService_GeneralRoomScenario(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	f := newFixture(t, nil)
	general := f.roomStore.PutRoom(room.Room{Name: "general"})

	msg := f.send(t, alice, general.ID, "hello")
	req.False(msg.IsEdited)

	page, err := f.svc.List(ctx, bob, general.ID, 1, 0)
	req.NoError(err)
	req.Len(page.Data, 1)
	req.Equal("hello", page.Data[0].Content)

	_, err = f.svc.MarkRead(ctx, bob, msg.ID)
	req.NoError(err)
	_, err = f.svc.MarkRead(ctx, alice, msg.ID)
	req.ErrorIs(err, apperr.ErrInvalidSelfRead)

	edited, err := f.svc.Edit(ctx, alice, msg.ID, "hello!")
	req.NoError(err)
	req.True(edited.IsEdited)

	req.ErrorIs(f.svc.Delete(ctx, carol, msg.ID), apperr.ErrForbidden)
	req.NoError(f.svc.Delete(ctx, admin, msg.ID))

	for _, who := range []auth.Identity{alice, bob, carol, admin} {
		_, err := f.svc.Get(ctx, who, msg.ID)
		req.ErrorIs(err, apperr.ErrNotFound)
	}

	var types []EventType
	for _, evt := range f.bus.events {
		types = append(types, evt.Type)
	}
	req.Equal([]EventType{MessageCreated, MessageUpdated, MessageDeleted}, types)

	var payload Message
	req.NoError(json.Unmarshal(f.bus.events[1].Payload, &payload))
	req.Equal("hello!", payload.Content)
}

func TestService_PrivateRoomScenario(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	f := newFixture(t, nil)
	exec := f.roomStore.PutRoom(room.Room{Name: "exec", IsPrivate: true})
	_, err := f.roomStore.AddMember(ctx, exec.ID, alice.ID, time.Now())
	req.NoError(err)

	_, err = f.rooms.Join(ctx, exec.ID, bob)
	req.ErrorIs(err, apperr.ErrForbidden)
	_, err = f.svc.Send(ctx, bob, SendRequest{RoomID: exec.ID, Content: "let me in"}, nil)
	req.ErrorIs(err, apperr.ErrForbidden)

	req.NoError(f.rooms.Assign(ctx, admin, bob.ID, exec.ID))
	_, err = f.rooms.Join(ctx, exec.ID, bob)
	req.ErrorIs(err, apperr.ErrAlreadyMember)

	// Access is re-evaluated per call, so the assignment takes effect at once.
	msg := f.send(t, bob, exec.ID, "thanks")
	_, err = f.svc.MarkRead(ctx, alice, msg.ID)
	req.NoError(err)

	req.NoError(f.rooms.Revoke(ctx, admin, bob.ID, exec.ID))
	_, err = f.svc.List(ctx, bob, exec.ID, 1, 0)
	req.ErrorIs(err, apperr.ErrNotFound)
}

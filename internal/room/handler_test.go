package room

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"roomchat/internal/auth"
	"roomchat/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type tokens map[string]auth.Identity

func (tk tokens) ValidateToken(token string) (auth.Identity, error) {
	id, ok := tk[token]
	if !ok {
		return auth.Identity{}, errors.New("bad token")
	}
	return id, nil
}

func newRoomServer(t *testing.T) (*httptest.Server, *Service, *MemoryStore) {
	t.Helper()
	svc, store := newTestService(t)
	h := NewHandler(svc, slog.Default())
	am := middleware.NewAuthMiddleware(tokens{"alice": alice, "carol": carol, "root": admin})

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(am.Handle)
		r.Get("/api/rooms/{id}", h.GetRoom)
		r.Get("/api/rooms/{id}/users", h.ListMembers)
		r.Get("/api/users", h.ListUsers)
		r.Get("/api/users/{userId}", h.ShowUser)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc, store
}

func get(t *testing.T, srv *httptest.Server, path, token string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, string(body)
}

func TestHandler_HiddenRoomsLookMissing(t *testing.T) {
	req := require.New(t)
	srv, svc, store := newRoomServer(t)
	exec := store.PutRoom(Room{Name: "exec", IsPrivate: true})
	req.NoError(svc.Assign(context.Background(), admin, alice.ID, exec.ID))
	execPath := "/api/rooms/" + strconv.FormatInt(exec.ID, 10)

	status, body := get(t, srv, execPath, "alice")
	req.Equal(http.StatusOK, status)
	req.Contains(body, `"name":"exec"`)

	for _, suffix := range []string{"", "/users"} {
		hiddenStatus, hiddenBody := get(t, srv, execPath+suffix, "carol")
		missingStatus, missingBody := get(t, srv, "/api/rooms/9999"+suffix, "carol")
		req.Equal(http.StatusNotFound, hiddenStatus, suffix)
		req.Equal(missingStatus, hiddenStatus, suffix)
		req.JSONEq(missingBody, hiddenBody, suffix)
	}
}

func TestHandler_UserDirectory(t *testing.T) {
	req := require.New(t)
	srv, svc, store := newRoomServer(t)
	exec := store.PutRoom(Room{Name: "exec", IsPrivate: true})
	req.NoError(svc.Assign(context.Background(), admin, alice.ID, exec.ID))

	status, body := get(t, srv, "/api/users", "root")
	req.Equal(http.StatusOK, status)
	var users []map[string]any
	req.NoError(json.Unmarshal([]byte(body), &users))
	req.Len(users, 4)
	req.Equal("alice", users[0]["username"])
	req.EqualValues(1, users[0]["rooms_count"])
	req.NotContains(body, "password")

	status, _ = get(t, srv, "/api/users", "alice")
	req.Equal(http.StatusForbidden, status)

	status, body = get(t, srv, "/api/users/1", "alice")
	req.Equal(http.StatusOK, status)
	req.Contains(body, `"rooms_count":1`)

	status, _ = get(t, srv, "/api/users/1", "carol")
	req.Equal(http.StatusForbidden, status)
}

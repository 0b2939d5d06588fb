package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"roomchat/internal/apperr"
	"roomchat/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	service *Service
	log     *slog.Logger
}

func NewHandler(service *Service, log *slog.Logger) *Handler {
	return &Handler{service: service, log: log}
}

func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r, h.log)
	if !ok {
		return
	}
	rooms, err := h.service.ListRooms(r.Context(), id)
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, rooms)
}

func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r, h.log)
	if !ok {
		return
	}
	var req CreateRoomRequest
	if !decode(w, r, h.log, &req) {
		return
	}
	rm, err := h.service.CreateRoom(r.Context(), id, req)
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, rm)
}

func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r, h.log)
	if !ok {
		return
	}
	roomID, ok := pathID(w, r, h.log, "id")
	if !ok {
		return
	}
	detail, err := h.service.Get(r.Context(), roomID, id)
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, detail)
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, categories)
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r, h.log)
	if !ok {
		return
	}
	var req CreateCategoryRequest
	if !decode(w, r, h.log, &req) {
		return
	}
	c, err := h.service.CreateCategory(r.Context(), id, req)
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r, h.log)
	if !ok {
		return
	}
	roomID, ok := pathID(w, r, h.log, "id")
	if !ok {
		return
	}
	members, err := h.service.Join(r.Context(), roomID, id)
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Joined room successfully",
		"members": members,
	})
}

func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r, h.log)
	if !ok {
		return
	}
	roomID, ok := pathID(w, r, h.log, "id")
	if !ok {
		return
	}
	if err := h.service.Leave(r.Context(), roomID, id); err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, map[string]string{"message": "Left room successfully"})
}

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r, h.log)
	if !ok {
		return
	}
	roomID, ok := pathID(w, r, h.log, "id")
	if !ok {
		return
	}
	members, err := h.service.ListMembers(r.Context(), roomID, id)
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, members)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r, h.log)
	if !ok {
		return
	}
	users, err := h.service.Users(r.Context(), id)
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, users)
}

func (h *Handler) ShowUser(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r, h.log)
	if !ok {
		return
	}
	userID, ok := pathID(w, r, h.log, "userId")
	if !ok {
		return
	}
	entry, err := h.service.User(r.Context(), id, userID)
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) AssignRoom(w http.ResponseWriter, r *http.Request) {
	h.adminMembership(w, r, h.service.Assign, "Room assigned successfully")
}

func (h *Handler) RemoveRoom(w http.ResponseWriter, r *http.Request) {
	h.adminMembership(w, r, h.service.Revoke, "Room access removed successfully")
}

func (h *Handler) adminMembership(w http.ResponseWriter, r *http.Request,
	op func(context.Context, auth.Identity, int64, int64) error, done string) {
	id, ok := identity(w, r, h.log)
	if !ok {
		return
	}
	userID, ok := pathID(w, r, h.log, "userId")
	if !ok {
		return
	}
	var req AssignRequest
	if !decode(w, r, h.log, &req) {
		return
	}
	if err := h.service.validate.Struct(req); err != nil {
		apperr.Write(w, h.log, fmt.Errorf("%w: %v", apperr.ErrValidation, err))
		return
	}
	if err := op(r.Context(), id, userID, req.RoomID); err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, map[string]string{"message": done})
}

func identity(w http.ResponseWriter, r *http.Request, log *slog.Logger) (auth.Identity, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		apperr.Write(w, log, apperr.ErrUnauthenticated)
	}
	return id, ok
}

func pathID(w http.ResponseWriter, r *http.Request, log *slog.Logger, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		apperr.Write(w, log, fmt.Errorf("%w: invalid %s", apperr.ErrNotFound, name))
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, log *slog.Logger, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		apperr.Write(w, log, fmt.Errorf("%w: %v", apperr.ErrValidation, err))
		return false
	}
	return true
}

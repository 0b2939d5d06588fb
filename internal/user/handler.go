package user

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"roomchat/internal/apperr"
	"roomchat/internal/auth"
)

type Handler struct {
	Service *Service
	log     *slog.Logger
}

func NewHandler(s *Service, log *slog.Logger) *Handler {
	return &Handler{Service: s, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, h.log, fmt.Errorf("%w: %v", apperr.ErrValidation, err))
		return
	}

	u, err := h.Service.Register(r.Context(), &req)
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}

	apperr.WriteJSON(w, http.StatusCreated, u)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, h.log, fmt.Errorf("%w: %v", apperr.ErrValidation, err))
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}

	apperr.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		apperr.Write(w, h.log, apperr.ErrUnauthenticated)
		return
	}
	u, err := h.Service.Me(r.Context(), id)
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.SearchUsers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, users)
}

func (h *Handler) Online(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.ListOnline(r.Context())
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, users)
}

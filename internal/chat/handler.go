package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"roomchat/internal/apperr"
	"roomchat/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// SocketHeader carries the caller's websocket id so its own events are not
// echoed back to it.
const SocketHeader = "X-Socket-ID"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients are served from other origins; auth is the JWT.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	service  *Service
	hub      *Hub
	authz    SubscribeAuthorizer
	presence PresenceTracker
	log      *slog.Logger
}

func NewHandler(service *Service, hub *Hub, authz SubscribeAuthorizer, presence PresenceTracker, log *slog.Logger) *Handler {
	return &Handler{service: service, hub: hub, authz: authz, presence: presence, log: log}
}

// ---------------------------------------------
// REST
// ---------------------------------------------

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	var (
		req    SendRequest
		upload *Upload
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		var err error
		req, upload, err = h.readMultipart(w, r)
		if err != nil {
			apperr.Write(w, h.log, err)
			return
		}
		defer r.MultipartForm.RemoveAll()
		if upload != nil {
			if c, ok := upload.Body.(io.Closer); ok {
				defer c.Close()
			}
		}
	} else if !h.decode(w, r, &req) {
		return
	}

	msg, err := h.service.Send(h.origin(r), id, req, upload)
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, msg)
}

func (h *Handler) readMultipart(w http.ResponseWriter, r *http.Request) (SendRequest, *Upload, error) {
	limit := h.service.opts.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(limit); err != nil {
		return SendRequest{}, nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}

	req := SendRequest{Content: r.FormValue("content")}
	if v := r.FormValue("room_id"); v != "" {
		roomID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return SendRequest{}, nil, fmt.Errorf("%w: invalid room_id", apperr.ErrValidation)
		}
		req.RoomID = roomID
	}

	file, header, err := r.FormFile("file")
	if err == http.ErrMissingFile {
		return req, nil, nil
	}
	if err != nil {
		return SendRequest{}, nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return req, &Upload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}, nil
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	messageID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	msg, err := h.service.Get(r.Context(), id, messageID)
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, msg)
}

func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	messageID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req EditRequest
	if !h.decode(w, r, &req) {
		return
	}
	msg, err := h.service.Edit(h.origin(r), id, messageID, req.Content)
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, msg)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	messageID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(h.origin(r), id, messageID); err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	messageID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	reads, err := h.service.MarkRead(r.Context(), id, messageID)
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, map[string]any{
		"message_id": messageID,
		"reads":      reads,
	})
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	roomID, ok := h.pathID(w, r, "roomId")
	if !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	result, err := h.service.List(r.Context(), id, roomID, page, perPage)
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	roomID, ok := h.pathID(w, r, "roomId")
	if !ok {
		return
	}
	n, err := h.service.UnreadCount(r.Context(), id, roomID)
	if err != nil {
		apperr.Write(w, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, map[string]int64{
		"room_id":      roomID,
		"unread_count": n,
	})
}

// ---------------------------------------------
// Websocket
// ---------------------------------------------

// ServeWs upgrades the connection and serves it until the peer goes away.
// The first frame the client receives is {"type":"connected","socket_id":...}.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(h.hub, conn, id, h.authz, h.presence, h.log)
	client.presenceSignal(r.Context(), PresenceTracker.Connected)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump(context.WithoutCancel(r.Context()))
}

// ---------------------------------------------
// helpers
// ---------------------------------------------

func (h *Handler) origin(r *http.Request) context.Context {
	return WithOrigin(r.Context(), r.Header.Get(SocketHeader))
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		apperr.Write(w, h.log, apperr.ErrUnauthenticated)
	}
	return id, ok
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		apperr.Write(w, h.log, fmt.Errorf("%w: invalid %s", apperr.ErrNotFound, name))
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		apperr.Write(w, h.log, fmt.Errorf("%w: %v", apperr.ErrValidation, err))
		return false
	}
	return true
}

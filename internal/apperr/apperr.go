// Package apperr defines the error kinds returned by the chat services and
// their mapping onto HTTP responses.
package apperr

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrAlreadyMember   = errors.New("already a member of this room")
	ErrAlreadyRead     = errors.New("message already marked as read")
	ErrInvalidSelfRead = errors.New("cannot mark own message as read")
	ErrValidation      = errors.New("validation failed")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Response is the body written for every failed request. NotFound and
// Forbidden share it so private resources cannot be told apart by shape.
type Response struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type kind struct {
	err     error
	status  int
	code    string
	message string
}

// message == "" means the wrapped error text is safe to return.
var kinds = []kind{
	{ErrNotFound, http.StatusNotFound, "not_found", "resource not found or not accessible"},
	{ErrForbidden, http.StatusForbidden, "forbidden", "resource not found or not accessible"},
	{ErrAlreadyMember, http.StatusConflict, "already_member", "already a member of this room"},
	{ErrAlreadyRead, http.StatusConflict, "already_read", "message already marked as read"},
	{ErrInvalidSelfRead, http.StatusBadRequest, "invalid_self_read", "cannot mark own message as read"},
	{ErrValidation, http.StatusUnprocessableEntity, "validation_failed", ""},
	{ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated", "authentication required"},
}

// Classify returns the HTTP status, stable code and user-facing message for err.
func Classify(err error) (int, Response) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			msg := k.message
			if msg == "" {
				msg = err.Error()
			}
			return k.status, Response{Code: k.code, Message: msg}
		}
	}
	return http.StatusInternalServerError, Response{Code: "internal", Message: "internal server error"}
}

// Write renders err as a JSON error response. Unclassified errors are logged
// and replaced with a generic message.
func Write(w http.ResponseWriter, log *slog.Logger, err error) {
	status, body := Classify(err)
	if status == http.StatusInternalServerError && log != nil {
		log.Error("request failed", "error", err)
	}
	WriteJSON(w, status, body)
}

// WriteJSON encodes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

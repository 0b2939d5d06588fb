package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Run("wrapped kinds keep their code", func(t *testing.T) {
		req := require.New(t)
		status, body := Classify(fmt.Errorf("join room 4: %w", ErrAlreadyMember))
		req.Equal(http.StatusConflict, status)
		req.Equal("already_member", body.Code)
	})

	t.Run("not found and forbidden share the message", func(t *testing.T) {
		req := require.New(t)
		_, nf := Classify(fmt.Errorf("room 9: %w", ErrNotFound))
		_, fb := Classify(fmt.Errorf("room 9: %w", ErrForbidden))
		req.Equal(nf.Message, fb.Message)
	})

	t.Run("validation exposes the detail", func(t *testing.T) {
		req := require.New(t)
		status, body := Classify(fmt.Errorf("%w: content is required", ErrValidation))
		req.Equal(http.StatusUnprocessableEntity, status)
		req.Equal("validation failed: content is required", body.Message)
	})

	t.Run("unknown errors are internal", func(t *testing.T) {
		req := require.New(t)
		status, body := Classify(errors.New("connection reset"))
		req.Equal(http.StatusInternalServerError, status)
		req.Equal("internal", body.Code)
		req.NotContains(body.Message, "connection reset")
	})
}

func TestWrite(t *testing.T) {
	req := require.New(t)
	rec := httptest.NewRecorder()

	Write(rec, nil, fmt.Errorf("edit: %w", ErrForbidden))

	req.Equal(http.StatusForbidden, rec.Code)
	req.Equal("application/json", rec.Header().Get("Content-Type"))
	var body Response
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	req.Equal("forbidden", body.Code)
}

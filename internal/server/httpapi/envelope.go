package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/notesync/internal/common"
)

const maxBodyBytes = 8 << 20

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
	Message string     `json:"message,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Error: &errorBody{Code: code, Message: message}, Message: message})
}

// decode reads a JSON body of at most maxBodyBytes into v.
func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return common.NewValidationError("decode", "cannot read request body")
	}
	if len(body) > maxBodyBytes {
		return common.NewValidationError("decode", "request body too large")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return common.NewValidationError("decode", fmt.Sprintf("malformed request body: %v", err))
	}
	return nil
}

// fail maps err to a status and writes it. Internal failures are logged
// and reported without detail.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := classify(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, code, msg)
}

func classify(err error) (int, string, string) {
	var ce *common.Error
	switch {
	case errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized, "token_expired", "access token expired"
	case errors.Is(err, common.ErrRefreshTokenExpired):
		return http.StatusUnauthorized, "refresh_token_expired", "refresh token expired"
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrNotAuthenticated):
		return http.StatusUnauthorized, "invalid_token", "invalid access token"
	case errors.Is(err, common.ErrorUnauthorized):
		return http.StatusUnauthorized, "unauthorized", "invalid credentials"
	case errors.As(err, &ce) && ce.Kind == common.KindValidation:
		msg := ce.Message
		if msg == "" {
			msg = ce.Error()
		}
		return http.StatusBadRequest, "validation", msg
	case errors.Is(err, common.ErrorValidation):
		return http.StatusBadRequest, "validation", err.Error()
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, common.ErrorAlreadyExists):
		return http.StatusConflict, "already_exists", "already exists"
	default:
		return http.StatusInternalServerError, "internal", "internal server error"
	}
}

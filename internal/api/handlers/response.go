package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/websocket"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 256 * 1024

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// respondError writes the same {code, message} body the feeds use in their
// ERROR frames.
func respondError(w http.ResponseWriter, log *zerolog.Logger, err error) {
	code := websocket.ErrorCode(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", code).Msg("request failed")
	}
	respondJSON(w, status, websocket.ErrorPayload{Code: code, Message: err.Error()})
}

func statusFor(code string) int {
	switch code {
	case websocket.CodeRoomNotFound:
		return http.StatusNotFound
	case websocket.CodeConflict, websocket.CodeCreateConflict:
		return http.StatusConflict
	case websocket.CodeValidation:
		return http.StatusBadRequest
	case websocket.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(domain.ErrValidation, err)
	}
	return nil
}

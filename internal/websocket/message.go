package websocket

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dom/news-unpacked/internal/domain"
)

type MessageType string

const (
	// Server to Client
	MessageTypeRoomSnapshot     MessageType = "ROOM_SNAPSHOT"
	MessageTypeMessagesSnapshot MessageType = "MESSAGES_SNAPSHOT"
	MessageTypeError            MessageType = "ERROR"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      msgType,
		Payload:   payloadBytes,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// RoomSnapshotPayload carries the whole document. Room is null when the
// document does not exist.
type RoomSnapshotPayload struct {
	Room *domain.Room `json:"room"`
}

type MessagesSnapshotPayload struct {
	Messages []domain.ChatMessage `json:"messages"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes shared by WebSocket ERROR frames and HTTP error bodies.
const (
	CodeRoomNotFound   = "ROOM_NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeCreateConflict = "CREATE_CONFLICT"
	CodeValidation     = "VALIDATION"
	CodeUnavailable    = "UNAVAILABLE"
	CodeInternal       = "INTERNAL"
)

// ErrorCode classifies err for the wire.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return CodeRoomNotFound
	case errors.Is(err, domain.ErrCreateConflict):
		return CodeCreateConflict
	case errors.Is(err, domain.ErrConflict):
		return CodeConflict
	case errors.Is(err, domain.ErrValidation):
		return CodeValidation
	case errors.Is(err, domain.ErrTransport):
		return CodeUnavailable
	}
	return CodeInternal
}

// ErrorFromPayload turns a wire error back into the matching domain sentinel.
func ErrorFromPayload(p ErrorPayload) error {
	var base error
	switch p.Code {
	case CodeRoomNotFound:
		base = domain.ErrRoomNotFound
	case CodeCreateConflict:
		base = domain.ErrCreateConflict
	case CodeConflict:
		base = domain.ErrConflict
	case CodeValidation:
		base = domain.ErrValidation
	default:
		base = domain.ErrTransport
	}
	return &RemoteError{Code: p.Code, Message: p.Message, base: base}
}

type RemoteError struct {
	Code    string
	Message string
	base    error
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.base.Error()
	}
	return e.Message
}

func (e *RemoteError) Unwrap() error { return e.base }

// Package remote implements repository.Store against a running server over
// its REST and WebSocket API, so participants in different processes share
// one room document.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/repository"
	"github.com/dom/news-unpacked/internal/websocket"
	gorillaWS "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const apiPrefix = "/api/v1"

type Store struct {
	baseURL    string
	httpClient *http.Client
	dialer     *gorillaWS.Dialer
	log        zerolog.Logger
	// backoff bounds the wait between WebSocket reconnects.
	minBackoff time.Duration
	maxBackoff time.Duration
}

type Option func(*Store)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.httpClient = c }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log.With().Str("component", "store.remote").Logger() }
}

func WithBackoff(initial, limit time.Duration) Option {
	return func(s *Store) {
		s.minBackoff = initial
		s.maxBackoff = limit
	}
}

// NewStore talks to the server at baseURL, e.g. "http://localhost:8080".
func NewStore(baseURL string, opts ...Option) *Store {
	s := &Store{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		dialer: &gorillaWS.Dialer{
			HandshakeTimeout: 5 * time.Second,
		},
		log:        zerolog.Nop(),
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ repository.Store = (*Store)(nil)

func (s *Store) CreateRoom(ctx context.Context, room *domain.Room) error {
	var created domain.Room
	if err := s.do(ctx, http.MethodPost, "/rooms", room, nil, &created); err != nil {
		return err
	}
	room.Version = created.Version
	return nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (*domain.Room, error) {
	var room domain.Room
	if err := s.do(ctx, http.MethodGet, roomPath(id), nil, nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *Store) ReplaceRoom(ctx context.Context, room *domain.Room, expectedVersion int64) error {
	header := http.Header{}
	header.Set("If-Match", strconv.FormatInt(expectedVersion, 10))
	return s.do(ctx, http.MethodPut, roomPath(room.ID), room, header, nil)
}

func (s *Store) PatchRoom(ctx context.Context, id string, patch domain.RoomPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	return s.do(ctx, http.MethodPatch, roomPath(id), patch, nil, nil)
}

func (s *Store) AddTopic(ctx context.Context, id string, topic domain.Topic) error {
	return s.do(ctx, http.MethodPost, roomPath(id)+"/topics", topic, nil, nil)
}

func (s *Store) AppendMessage(ctx context.Context, roomID string, msg domain.ChatMessage) (domain.ChatMessage, error) {
	var stored domain.ChatMessage
	if err := s.do(ctx, http.MethodPost, roomPath(roomID)+"/messages", msg, nil, &stored); err != nil {
		return domain.ChatMessage{}, err
	}
	return stored, nil
}

func (s *Store) ListMessages(ctx context.Context, roomID string) ([]domain.ChatMessage, error) {
	var messages []domain.ChatMessage
	if err := s.do(ctx, http.MethodGet, roomPath(roomID)+"/messages", nil, nil, &messages); err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.ChatMessage{}
	}
	return messages, nil
}

func roomPath(id string) string {
	return "/rooms/" + url.PathEscape(id)
}

func (s *Store) do(ctx context.Context, method, path string, body interface{}, header http.Header, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+apiPrefix+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: %w: decode response: %v", method, path, domain.ErrTransport, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var payload websocket.ErrorPayload
	if err := json.Unmarshal(data, &payload); err == nil && payload.Code != "" {
		return websocket.ErrorFromPayload(payload)
	}

	payload.Message = strings.TrimSpace(string(data))
	switch resp.StatusCode {
	case http.StatusNotFound:
		payload.Code = websocket.CodeRoomNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		payload.Code = websocket.CodeConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		payload.Code = websocket.CodeValidation
	default:
		payload.Code = websocket.CodeUnavailable
		if payload.Message == "" {
			payload.Message = resp.Status
		}
	}
	return websocket.ErrorFromPayload(payload)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/identity"
	"github.com/dom/news-unpacked/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultCreateAttempts = 5

type RoomService struct {
	rooms          repository.RoomStore
	messages       repository.MessageStore
	txAttempts     int
	createAttempts int
	now            func() time.Time
	newCode        func() (string, error)
	log            zerolog.Logger
}

type RoomServiceOption func(*RoomService)

// WithTransactionAttempts bounds the retries of join and leave.
func WithTransactionAttempts(n int) RoomServiceOption {
	return func(s *RoomService) { s.txAttempts = n }
}

// WithCreateAttempts bounds how many fresh codes CreateRoom tries.
func WithCreateAttempts(n int) RoomServiceOption {
	return func(s *RoomService) { s.createAttempts = n }
}

func WithCodeGenerator(gen func() (string, error)) RoomServiceOption {
	return func(s *RoomService) { s.newCode = gen }
}

func WithClock(now func() time.Time) RoomServiceOption {
	return func(s *RoomService) { s.now = now }
}

func NewRoomService(rooms repository.RoomStore, messages repository.MessageStore, log zerolog.Logger, opts ...RoomServiceOption) *RoomService {
	s := &RoomService{
		rooms:          rooms,
		messages:       messages,
		txAttempts:     repository.DefaultTransactionAttempts,
		createAttempts: DefaultCreateAttempts,
		now:            time.Now,
		newCode:        domain.GenerateRoomCode,
		log:            log.With().Str("component", "rooms").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRoom writes a new lobby with hostName as its only player. A code
// collision is retried with a fresh code.
func (s *RoomService) CreateRoom(ctx context.Context, hostName string) (string, domain.Player, error) {
	name := strings.TrimSpace(hostName)
	if name == "" {
		return "", domain.Player{}, domain.ErrEmptyName
	}

	host := domain.Player{ID: uuid.NewString(), Name: name, IsHost: true}

	var lastErr error
	for attempt := 0; attempt < s.createAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return "", domain.Player{}, fmt.Errorf("generate room code: %w", err)
		}

		room := domain.NewRoom(code, host, s.now().UnixMilli())
		err = s.rooms.CreateRoom(ctx, room)
		if err == nil {
			s.log.Info().Str("room", code).Str("host", host.ID).Msg("room created")
			return code, host, nil
		}
		if !errors.Is(err, domain.ErrCreateConflict) {
			return "", domain.Player{}, fmt.Errorf("create room: %w", err)
		}
		s.log.Debug().Str("room", code).Msg("room code taken, retrying")
		lastErr = err
	}

	return "", domain.Player{}, fmt.Errorf("create room after %d attempts: %w", s.createAttempts, lastErr)
}

// JoinRoom appends a new non-host player inside an optimistic transaction so
// that concurrent joins never lose each other.
func (s *RoomService) JoinRoom(ctx context.Context, roomID, name string) (domain.Player, error) {
	code := domain.NormalizeRoomCode(roomID)
	if !domain.ValidRoomCode(code) {
		return domain.Player{}, domain.ErrInvalidRoomCode
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Player{}, domain.ErrEmptyName
	}

	player := domain.Player{ID: uuid.NewString(), Name: name}
	_, err := repository.RunTransaction(ctx, s.rooms, code, s.txAttempts, func(room *domain.Room) error {
		room.Players = append(room.Players, player)
		return nil
	})
	if err != nil {
		return domain.Player{}, fmt.Errorf("join room %s: %w", code, err)
	}

	s.log.Info().Str("room", code).Str("player", player.ID).Msg("player joined")
	return player, nil
}

// RejoinRoom puts a returning participant back under their stored id. It is
// a no-op when the player is still listed.
func (s *RoomService) RejoinRoom(ctx context.Context, roomID string, session identity.Session) error {
	if !session.Known() {
		return domain.ErrNotInRoom
	}
	code := domain.NormalizeRoomCode(roomID)
	_, err := repository.RunTransaction(ctx, s.rooms, code, s.txAttempts, func(room *domain.Room) error {
		if _, ok := room.PlayerByID(session.ID); ok {
			return repository.ErrSkipWrite
		}
		player := session.Player()
		// The host flag is only ever granted at creation.
		player.IsHost = false
		room.Players = append(room.Players, player)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rejoin room %s: %w", code, err)
	}
	return nil
}

// LeaveRoom removes playerID from the player list. A missing room or an
// unknown player is not an error, and the room itself is never deleted.
func (s *RoomService) LeaveRoom(ctx context.Context, roomID, playerID string) error {
	code := domain.NormalizeRoomCode(roomID)
	_, err := repository.RunTransaction(ctx, s.rooms, code, s.txAttempts, func(room *domain.Room) error {
		kept := room.Players[:0]
		for _, p := range room.Players {
			if p.ID != playerID {
				kept = append(kept, p)
			}
		}
		if len(kept) == len(room.Players) {
			return repository.ErrSkipWrite
		}
		room.Players = kept
		return nil
	})
	if errors.Is(err, domain.ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("leave room %s: %w", code, err)
	}

	s.log.Info().Str("room", code).Str("player", playerID).Msg("player left")
	return nil
}

// AddTopic appends with set semantics; a topic id already present is kept once.
func (s *RoomService) AddTopic(ctx context.Context, roomID string, topic domain.Topic) error {
	if err := s.rooms.AddTopic(ctx, domain.NormalizeRoomCode(roomID), topic); err != nil {
		return fmt.Errorf("add topic: %w", err)
	}
	return nil
}

// UpdateFields overwrites the named fields. Callers are expected to be the
// single writer of those fields.
func (s *RoomService) UpdateFields(ctx context.Context, roomID string, patch domain.RoomPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	if err := s.rooms.PatchRoom(ctx, domain.NormalizeRoomCode(roomID), patch); err != nil {
		return fmt.Errorf("update room: %w", err)
	}
	return nil
}

func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	return s.rooms.GetRoom(ctx, domain.NormalizeRoomCode(roomID))
}

// Subscribe delivers the whole room document on every change, including the
// caller's own writes. A nil room means the document does not exist.
func (s *RoomService) Subscribe(roomID string, fn repository.RoomListener) repository.Unsubscribe {
	return s.rooms.WatchRoom(domain.NormalizeRoomCode(roomID), fn)
}

func (s *RoomService) SubscribeMessages(roomID string, fn repository.MessagesListener) repository.Unsubscribe {
	return s.messages.WatchMessages(domain.NormalizeRoomCode(roomID), fn)
}

func (s *RoomService) AppendMessage(ctx context.Context, roomID string, msg domain.ChatMessage) (domain.ChatMessage, error) {
	stored, err := s.messages.AppendMessage(ctx, domain.NormalizeRoomCode(roomID), msg)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("append message: %w", err)
	}
	return stored, nil
}

package service

import (
	"time"

	"github.com/dom/news-unpacked/internal/repository"
	"github.com/dom/news-unpacked/internal/signal"
	"github.com/rs/zerolog"
)

type Services struct {
	Room    *RoomService
	Phase   *PhaseService
	Chat    *ChatService
	Signals *signal.Sender
}

// Config tunes the services. Zero fields keep the defaults.
type Config struct {
	TransactionAttempts int
	CreateAttempts      int
	Now                 func() time.Time
	Shuffle             func(n int, swap func(i, j int))
}

func NewServices(store repository.Store, log zerolog.Logger, cfg Config) *Services {
	var roomOpts []RoomServiceOption
	if cfg.TransactionAttempts > 0 {
		roomOpts = append(roomOpts, WithTransactionAttempts(cfg.TransactionAttempts))
	}
	if cfg.CreateAttempts > 0 {
		roomOpts = append(roomOpts, WithCreateAttempts(cfg.CreateAttempts))
	}
	if cfg.Now != nil {
		roomOpts = append(roomOpts, WithClock(cfg.Now))
	}
	var phaseOpts []PhaseServiceOption
	if cfg.Shuffle != nil {
		phaseOpts = append(phaseOpts, WithShuffle(cfg.Shuffle))
	}

	rooms := NewRoomService(store, store, log, roomOpts...)
	signals := signal.NewSender(rooms)
	if cfg.Now != nil {
		signals = signals.WithClock(cfg.Now)
	}
	return &Services{
		Room:    rooms,
		Phase:   NewPhaseService(rooms, signals, log, phaseOpts...),
		Chat:    NewChatService(rooms),
		Signals: signals,
	}
}

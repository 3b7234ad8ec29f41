// Package roomsync keeps a participant's local copy of the room document in
// step with the store.
package roomsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/identity"
	"github.com/dom/news-unpacked/internal/repository"
	"github.com/rs/zerolog"
)

const DefaultLeaveTimeout = 5 * time.Second

var ErrAlreadyAttached = errors.New("synchronizer already attached to a room")

type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateNotFound
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateNotFound:
		return "not_found"
	}
	return "idle"
}

// Snapshot is the synchronizer's view after the latest delivery. Err holds
// the last subscription error; the previous Room is kept alongside it.
type Snapshot struct {
	State  State
	RoomID string
	Room   *domain.Room
	Err    error
}

// RoomSource is the part of the room service the synchronizer needs.
type RoomSource interface {
	Subscribe(roomID string, fn repository.RoomListener) repository.Unsubscribe
	LeaveRoom(ctx context.Context, roomID, playerID string) error
}

type Synchronizer struct {
	source       RoomSource
	leaveTimeout time.Duration
	log          zerolog.Logger

	mu          sync.Mutex
	session     identity.Session
	unsubscribe repository.Unsubscribe
	generation  int
	current     Snapshot
	listeners   map[int]func(Snapshot)
	nextID      int
	leaves      sync.WaitGroup
}

func New(source RoomSource, log zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		source:       source,
		leaveTimeout: DefaultLeaveTimeout,
		log:          log.With().Str("component", "roomsync").Logger(),
		listeners:    make(map[int]func(Snapshot)),
	}
}

// WithLeaveTimeout bounds the leave issued by Detach.
func (s *Synchronizer) WithLeaveTimeout(d time.Duration) *Synchronizer {
	s.leaveTimeout = d
	return s
}

// Attach opens the single subscription for roomID on behalf of session.
func (s *Synchronizer) Attach(roomID string, session identity.Session) error {
	roomID = domain.NormalizeRoomCode(roomID)

	s.mu.Lock()
	if s.unsubscribe != nil {
		s.mu.Unlock()
		return ErrAlreadyAttached
	}
	s.generation++
	gen := s.generation
	s.session = session
	s.current = Snapshot{State: StateLoading, RoomID: roomID}
	s.unsubscribe = func() {}
	loading := s.current
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	notify(listeners, loading)

	unsubscribe := s.source.Subscribe(roomID, func(room *domain.Room, err error) {
		s.deliver(gen, room, err)
	})

	s.mu.Lock()
	if s.generation == gen {
		s.unsubscribe = unsubscribe
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	// Detached while subscribing.
	unsubscribe()
	return nil
}

func (s *Synchronizer) deliver(gen int, room *domain.Room, err error) {
	s.mu.Lock()
	if s.generation != gen || s.unsubscribe == nil {
		s.mu.Unlock()
		return
	}

	next := s.current
	switch {
	case err != nil:
		next.Err = err
		s.log.Warn().Err(err).Str("room", next.RoomID).Msg("room subscription error")
	case room == nil:
		next.State = StateNotFound
		next.Room = nil
		next.Err = nil
	default:
		next.State = StateReady
		next.Room = room.Clone()
		next.Err = nil
	}
	s.current = next
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	notify(listeners, next)
}

// OnSnapshot registers fn for every future snapshot. Listeners run on the
// subscription goroutine, one snapshot at a time, and each gets its own copy
// of the room.
func (s *Synchronizer) OnSnapshot(fn func(Snapshot)) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Synchronizer) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.current
	snap.Room = snap.Room.Clone()
	return snap
}

// Detach closes the subscription and, when the session is known, removes the
// player from the room in the background. A failed leave is logged and not
// retried.
func (s *Synchronizer) Detach() {
	s.mu.Lock()
	if s.unsubscribe == nil {
		s.mu.Unlock()
		return
	}
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.generation++
	roomID := s.current.RoomID
	session := s.session
	s.current = Snapshot{State: StateIdle}
	idle := s.current
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	unsubscribe()
	notify(listeners, idle)

	if !session.Known() || roomID == "" {
		return
	}
	s.leaves.Add(1)
	go func() {
		defer s.leaves.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.leaveTimeout)
		defer cancel()
		if err := s.source.LeaveRoom(ctx, roomID, session.ID); err != nil {
			s.log.Warn().Err(err).Str("room", roomID).Str("player", session.ID).Msg("leave room failed")
		}
	}()
}

// Wait blocks until background leaves have finished.
func (s *Synchronizer) Wait() {
	s.leaves.Wait()
}

func (s *Synchronizer) snapshotListeners() []func(Snapshot) {
	out := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []func(Snapshot), snap Snapshot) {
	for _, fn := range listeners {
		c := snap
		c.Room = snap.Room.Clone()
		fn(c)
	}
}

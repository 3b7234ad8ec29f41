package roomsync_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/identity"
	"github.com/dom/news-unpacked/internal/repository"
	"github.com/dom/news-unpacked/internal/roomsync"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRoomSource struct {
	mock.Mock

	mu       sync.Mutex
	listener repository.RoomListener
}

func (m *MockRoomSource) Subscribe(roomID string, fn repository.RoomListener) repository.Unsubscribe {
	m.mu.Lock()
	m.listener = fn
	m.mu.Unlock()
	args := m.Called(roomID)
	return args.Get(0).(repository.Unsubscribe)
}

func (m *MockRoomSource) LeaveRoom(ctx context.Context, roomID, playerID string) error {
	args := m.Called(ctx, roomID, playerID)
	return args.Error(0)
}

func (m *MockRoomSource) push(room *domain.Room, err error) {
	m.mu.Lock()
	fn := m.listener
	m.mu.Unlock()
	fn(room, err)
}

func lobby(id string, players ...domain.Player) *domain.Room {
	room := domain.NewRoom(id, players[0], 1)
	room.Players = append(room.Players, players[1:]...)
	room.Version = 1
	return room
}

var (
	alice = identity.Session{ID: "p-alice", Name: "Alice", IsHost: true}
	bob   = identity.Session{ID: "p-bob", Name: "Bob"}
)

func TestSynchronizer_StateMachine(t *testing.T) {
	src := &MockRoomSource{}
	unsubscribed := false
	src.On("Subscribe", "ABC123").Return(repository.Unsubscribe(func() { unsubscribed = true })).Once()
	src.On("LeaveRoom", mock.Anything, "ABC123", bob.ID).Return(nil).Once()

	syncer := roomsync.New(src, zerolog.Nop())
	var states []roomsync.State
	syncer.OnSnapshot(func(s roomsync.Snapshot) { states = append(states, s.State) })

	require.NoError(t, syncer.Attach("abc123", bob))
	assert.Equal(t, roomsync.StateLoading, syncer.Current().State)

	room := lobby("ABC123", alice.Player(), bob.Player())
	src.push(room, nil)
	snap := syncer.Current()
	assert.Equal(t, roomsync.StateReady, snap.State)
	require.NotNil(t, snap.Room)
	assert.Len(t, snap.Room.Players, 2)

	// Each snapshot replaces the previous one wholesale.
	next := room.Clone()
	next.Status = domain.RoomStatusPreparation
	next.Version = 2
	src.push(next, nil)
	assert.Equal(t, domain.RoomStatusPreparation, syncer.Current().Room.Status)

	// Errors are recorded, the last good document is kept.
	streamErr := errors.New("stream broke")
	src.push(nil, streamErr)
	snap = syncer.Current()
	assert.Equal(t, roomsync.StateReady, snap.State)
	assert.ErrorIs(t, snap.Err, streamErr)
	assert.NotNil(t, snap.Room)

	// Deletion mid-session.
	src.push(nil, nil)
	assert.Equal(t, roomsync.StateNotFound, syncer.Current().State)

	syncer.Detach()
	syncer.Wait()
	assert.True(t, unsubscribed)
	assert.Equal(t, roomsync.StateIdle, syncer.Current().State)
	assert.Equal(t, []roomsync.State{
		roomsync.StateLoading,
		roomsync.StateReady,
		roomsync.StateReady,
		roomsync.StateReady,
		roomsync.StateNotFound,
		roomsync.StateIdle,
	}, states)

	// Deliveries after detach are dropped.
	src.push(room, nil)
	assert.Equal(t, roomsync.StateIdle, syncer.Current().State)
	src.AssertExpectations(t)
}

func TestSynchronizer_SecondAttachFails(t *testing.T) {
	src := &MockRoomSource{}
	src.On("Subscribe", "ABC123").Return(repository.Unsubscribe(func() {})).Once()

	syncer := roomsync.New(src, zerolog.Nop())
	require.NoError(t, syncer.Attach("ABC123", identity.Session{}))
	assert.ErrorIs(t, syncer.Attach("XYZ789", identity.Session{}), roomsync.ErrAlreadyAttached)
	src.AssertNumberOfCalls(t, "Subscribe", 1)
}

func TestSynchronizer_DetachLeavesOnce(t *testing.T) {
	tests := []struct {
		name      string
		session   identity.Session
		leaveErr  error
		wantLeave bool
	}{
		{name: "known session leaves", session: bob, wantLeave: true},
		{name: "leave failure is swallowed", session: bob, leaveErr: errors.New("offline"), wantLeave: true},
		{name: "anonymous session does not leave", session: identity.Session{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &MockRoomSource{}
			src.On("Subscribe", "ABC123").Return(repository.Unsubscribe(func() {}))
			if tt.wantLeave {
				src.On("LeaveRoom", mock.Anything, "ABC123", tt.session.ID).
					Run(func(args mock.Arguments) {
						ctx := args.Get(0).(context.Context)
						_, hasDeadline := ctx.Deadline()
						assert.True(t, hasDeadline, "leave must be bounded")
					}).
					Return(tt.leaveErr).Once()
			}

			syncer := roomsync.New(src, zerolog.Nop()).WithLeaveTimeout(time.Second)
			require.NoError(t, syncer.Attach("ABC123", tt.session))
			syncer.Detach()
			syncer.Detach()
			syncer.Wait()

			if tt.wantLeave {
				src.AssertNumberOfCalls(t, "LeaveRoom", 1)
			} else {
				src.AssertNotCalled(t, "LeaveRoom", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestSynchronizer_ListenersGetCopies(t *testing.T) {
	src := &MockRoomSource{}
	src.On("Subscribe", "ABC123").Return(repository.Unsubscribe(func() {}))

	syncer := roomsync.New(src, zerolog.Nop())
	remove := syncer.OnSnapshot(func(s roomsync.Snapshot) {
		if s.Room != nil {
			s.Room.Players[0].Name = "mutated"
		}
	})
	require.NoError(t, syncer.Attach("ABC123", identity.Session{}))
	src.push(lobby("ABC123", alice.Player()), nil)

	assert.Equal(t, "Alice", syncer.Current().Room.Players[0].Name)

	remove()
	calls := 0
	syncer.OnSnapshot(func(roomsync.Snapshot) { calls++ })
	src.push(lobby("ABC123", alice.Player()), nil)
	assert.Equal(t, 1, calls)
}

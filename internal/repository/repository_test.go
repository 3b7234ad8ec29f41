package repository_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/repository"
	"github.com/dom/news-unpacked/internal/repository/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoom(t *testing.T, store *memory.Store, code string) *domain.Room {
	t.Helper()
	room := domain.NewRoom(code, domain.Player{ID: "host", Name: "Host"}, time.Now().UnixMilli())
	require.NoError(t, store.CreateRoom(context.Background(), room))
	return room
}

func TestRunTransaction(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	newRoom(t, store, "ABC123")

	room, err := repository.RunTransaction(ctx, store, "ABC123", 3, func(room *domain.Room) error {
		room.Players = append(room.Players, domain.Player{ID: "g1", Name: "Guest"})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), room.Version)
	assert.Len(t, room.Players, 2)

	abort := errors.New("abort")
	_, err = repository.RunTransaction(ctx, store, "ABC123", 3, func(room *domain.Room) error { return abort })
	assert.ErrorIs(t, err, abort)

	_, err = repository.RunTransaction(ctx, store, "ABC123", 3, func(room *domain.Room) error { return repository.ErrSkipWrite })
	require.NoError(t, err)

	stored, err := store.GetRoom(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version, "aborted and skipped transactions write nothing")

	_, err = repository.RunTransaction(ctx, store, "ZZZZZZ", 3, func(room *domain.Room) error { return nil })
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

// racingStore lets a competing writer commit between every read and write.
type racingStore struct {
	*memory.Store
	races atomic.Int32
}

func (s *racingStore) ReplaceRoom(ctx context.Context, room *domain.Room, expected int64) error {
	if s.races.Add(-1) >= 0 {
		status := domain.RoomStatusPreparation
		if err := s.Store.PatchRoom(ctx, room.ID, domain.RoomPatch{Status: &status}); err != nil {
			return err
		}
	}
	return s.Store.ReplaceRoom(ctx, room, expected)
}

func TestRunTransaction_RetriesConflicts(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		races    int32
		attempts int
		wantErr  error
	}{
		{name: "succeeds after retries", races: 2, attempts: 3},
		{name: "gives up", races: 5, attempts: 3, wantErr: domain.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &racingStore{Store: memory.NewStore(nil)}
			newRoom(t, store.Store, "ABC123")
			store.races.Store(tt.races)

			calls := 0
			_, err := repository.RunTransaction(ctx, store, "ABC123", tt.attempts, func(room *domain.Room) error {
				calls++
				room.Players = append(room.Players, domain.Player{ID: "g", Name: "Guest"})
				return nil
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.attempts, calls)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int(tt.races)+1, calls)

			stored, err := store.GetRoom(ctx, "ABC123")
			require.NoError(t, err)
			assert.Len(t, stored.Players, 2)
			assert.Equal(t, domain.RoomStatusPreparation, stored.Status, "competing write survives")
		})
	}
}

func TestWatcher_CoalescesAndOrders(t *testing.T) {
	var (
		mu      sync.Mutex
		value   int
		loads   atomic.Int32
		release = make(chan struct{})
		got     = make(chan int, 10)
	)

	w := repository.NewWatcher(
		func(ctx context.Context) (int, error) {
			if loads.Add(1) == 2 {
				<-release
			}
			mu.Lock()
			defer mu.Unlock()
			return value, nil
		},
		func(prev, next int) bool { return prev == next },
		func(v int, err error) {
			assert.NoError(t, err)
			got <- v
		},
	)
	w.Start()
	defer w.Stop()

	assert.Equal(t, 0, <-got)

	// The second load blocks; pokes meanwhile collapse into one reload.
	mu.Lock()
	value = 1
	mu.Unlock()
	w.Poke()
	require.Eventually(t, func() bool { return loads.Load() == 2 }, time.Second, 5*time.Millisecond)
	for range 5 {
		mu.Lock()
		value++
		mu.Unlock()
		w.Poke()
	}
	close(release)

	assert.Equal(t, 6, <-got)
	assert.Eventually(t, func() bool { return loads.Load() == 3 }, time.Second, 5*time.Millisecond)

	// An unchanged value is not delivered again.
	w.Poke()
	select {
	case v := <-got:
		t.Fatalf("unexpected delivery %d", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatcher_DiscardsLoadFinishingAfterStop(t *testing.T) {
	var (
		loads     atomic.Int32
		started   = make(chan struct{})
		release   = make(chan struct{})
		delivered = make(chan int, 10)
	)

	w := repository.NewWatcher(
		func(ctx context.Context) (int, error) {
			if loads.Add(1) == 2 {
				close(started)
				<-release
			}
			return int(loads.Load()), nil
		},
		func(prev, next int) bool { return prev == next },
		func(v int, err error) { delivered <- v },
	)
	w.Start()
	assert.Equal(t, 1, <-delivered)

	w.Poke()
	<-started
	w.Stop()
	close(release)

	select {
	case v := <-delivered:
		t.Fatalf("delivery %d after Stop", v)
	case <-time.After(50 * time.Millisecond):
	}
	w.Stop()
}

func TestSameRoom(t *testing.T) {
	base := &domain.Room{ID: "ABC123", CreatedAt: 1000, Version: 3}
	tests := []struct {
		name string
		prev *domain.Room
		next *domain.Room
		want bool
	}{
		{name: "both absent", want: true},
		{name: "created", next: base, want: false},
		{name: "deleted", prev: base, want: false},
		{name: "same version", prev: base, next: &domain.Room{ID: "ABC123", CreatedAt: 1000, Version: 3}, want: true},
		{name: "new version", prev: base, next: &domain.Room{ID: "ABC123", CreatedAt: 1000, Version: 4}, want: false},
		{name: "recreated at same version", prev: base, next: &domain.Room{ID: "ABC123", CreatedAt: 2000, Version: 3}, want: false},
		{name: "different room", prev: base, next: &domain.Room{ID: "XYZ789", CreatedAt: 1000, Version: 3}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, repository.SameRoom(tt.prev, tt.next))
		})
	}
}

func TestMemoryStore_WatchRoom(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)

	snapshots := make(chan *domain.Room, 10)
	unsubscribe := store.WatchRoom("ABC123", func(room *domain.Room, err error) {
		assert.NoError(t, err)
		snapshots <- room
	})
	defer unsubscribe()

	assert.Nil(t, <-snapshots, "absent until created")

	newRoom(t, store, "ABC123")
	created := <-snapshots
	require.NotNil(t, created)
	assert.Equal(t, int64(1), created.Version)

	// Listeners own their copy.
	created.Players[0].Name = "mutated"
	fresh, err := store.GetRoom(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "Host", fresh.Players[0].Name)

	require.NoError(t, store.DeleteRoom(ctx, "ABC123"))
	assert.Nil(t, <-snapshots)

	unsubscribe()
	unsubscribe()
}

func TestMemoryStore_Messages(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	newRoom(t, store, "ABC123")

	for _, id := range []string{"a", "b", "c"} {
		_, err := store.AppendMessage(ctx, "ABC123", domain.ChatMessage{ID: id, Text: id})
		require.NoError(t, err)
	}

	messages, err := store.ListMessages(ctx, "ABC123")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for i := 1; i < len(messages); i++ {
		assert.LessOrEqual(t, messages[i-1].CreatedAt, messages[i].CreatedAt)
	}
	assert.Equal(t, "c", messages[2].ID)
}

func TestMemoryStore_ListMessagesIsolated(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	newRoom(t, store, "ABC123")

	topic := "t-1"
	_, err := store.AppendMessage(ctx, "ABC123", domain.ChatMessage{ID: "a", TopicID: &topic, Text: "on topic"})
	require.NoError(t, err)
	topic = "changed by caller"

	first, err := store.ListMessages(ctx, "ABC123")
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NotNil(t, first[0].TopicID)
	assert.Equal(t, "t-1", *first[0].TopicID)

	*first[0].TopicID = "changed by reader"
	first[0].Text = "rewritten"

	second, err := store.ListMessages(ctx, "ABC123")
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "t-1", *second[0].TopicID)
	assert.Equal(t, "on topic", second[0].Text)
}

func TestRunSweeper(t *testing.T) {
	store := memory.NewStore(nil)
	newRoom(t, store, "OLD111")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go repository.RunSweeper(ctx, store, time.Nanosecond, 10*time.Millisecond, zerolog.Nop())

	assert.Eventually(t, func() bool {
		_, err := store.GetRoom(context.Background(), "OLD111")
		return errors.Is(err, domain.ErrRoomNotFound)
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStore_DeleteInactiveBefore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	newRoom(t, store, "ABC123")

	n, err := store.DeleteInactiveBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.DeleteInactiveBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

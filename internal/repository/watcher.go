package repository

import (
	"context"
	"sync"

	"github.com/dom/news-unpacked/internal/domain"
)

// Watcher owns one subscription. Change notifications only mark the
// subscription dirty; a single goroutine reloads the whole document and
// delivers it, so notifications that arrive faster than reloads coalesce and
// listeners observe snapshots in commit order.
type Watcher[T any] struct {
	load    func(ctx context.Context) (T, error)
	same    func(prev, next T) bool
	deliver func(T, error)

	dirty  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewWatcher prepares a watcher. Subscribe Poke to change notifications
// before calling Start so that no commit falls between the first load and
// the subscription.
func NewWatcher[T any](load func(ctx context.Context) (T, error), same func(prev, next T) bool, deliver func(T, error)) *Watcher[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher[T]{
		load:    load,
		same:    same,
		deliver: deliver,
		dirty:   make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start delivers the current value and then follows changes.
func (w *Watcher[T]) Start() {
	w.Poke()
	go w.run()
}

// Poke marks the watched document as possibly changed. It never blocks.
func (w *Watcher[T]) Poke() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

// Stop ends the subscription without waiting for the watcher goroutine.
// Loads that finish after Stop are discarded, but a delivery already in
// progress may complete after Stop returns. Listeners that need a hard cut
// must tag or count their own deliveries.
func (w *Watcher[T]) Stop() {
	w.once.Do(w.cancel)
}

func (w *Watcher[T]) run() {
	var (
		prev    T
		hasPrev bool
	)
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.dirty:
		}

		next, err := w.load(w.ctx)
		if w.ctx.Err() != nil {
			return
		}
		if err != nil {
			hasPrev = false
			w.deliver(next, err)
			continue
		}
		if hasPrev && w.same(prev, next) {
			continue
		}
		prev, hasPrev = next, true
		w.deliver(next, nil)
	}
}

// SameRoom treats two snapshots as identical when both are absent, or when
// they are the same incarnation of the room at the same version. A room
// deleted and recreated between reloads has a new CreatedAt.
func SameRoom(prev, next *domain.Room) bool {
	if prev == nil || next == nil {
		return prev == nil && next == nil
	}
	return prev.ID == next.ID &&
		prev.CreatedAt == next.CreatedAt &&
		prev.Version == next.Version
}

// SameMessages relies on the log being append-only.
func SameMessages(prev, next []domain.ChatMessage) bool {
	if len(prev) != len(next) {
		return false
	}
	if len(next) == 0 {
		return true
	}
	return prev[len(prev)-1].ID == next[len(next)-1].ID
}

// Package notify carries "document changed" pulses from writers to watchers.
// Payloads are never sent: watchers reload the document themselves.
package notify

import (
	"context"
	"sync"
)

type Notifier interface {
	Publish(ctx context.Context, channel string) error
	Subscribe(channel string, fn func()) (cancel func())
	Close() error
}

func RoomChannel(roomID string) string {
	return "room:" + roomID
}

func MessagesChannel(roomID string) string {
	return "messages:" + roomID
}

// Local fans pulses out to subscribers in the same process.
type Local struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func()
}

func NewLocal() *Local {
	return &Local{subs: make(map[string]map[int]func())}
}

func (l *Local) Publish(_ context.Context, channel string) error {
	l.dispatch(channel)
	return nil
}

func (l *Local) dispatch(channel string) {
	l.mu.RLock()
	fns := make([]func(), 0, len(l.subs[channel]))
	for _, fn := range l.subs[channel] {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

func (l *Local) Subscribe(channel string, fn func()) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	if l.subs[channel] == nil {
		l.subs[channel] = make(map[int]func())
	}
	l.subs[channel][id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.remove(channel, id)
		})
	}
}

// remove reports whether channel has no subscribers left.
func (l *Local) remove(channel string, id int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subs[channel], id)
	if len(l.subs[channel]) == 0 {
		delete(l.subs, channel)
		return true
	}
	return false
}

func (l *Local) count(channel string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs[channel])
}

func (l *Local) Close() error {
	l.mu.Lock()
	l.subs = make(map[string]map[int]func())
	l.mu.Unlock()
	return nil
}

package signal

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultFreshness     = 5 * time.Second
	DefaultLifetime      = 3 * time.Second
	DefaultPurgeInterval = time.Second
)

// Event is an accepted signal waiting in the display queue.
type Event struct {
	Signal
	ReceivedAt time.Time
}

// Receiver de-duplicates signals by id, ignores ones older than the
// freshness window and keeps accepted ones for a fixed lifetime.
type Receiver struct {
	mu        sync.Mutex
	freshness time.Duration
	lifetime  time.Duration
	baseline  bool
	seenAny   bool
	lastID    string
	queue     []Event
	now       func() time.Time
}

type ReceiverOption func(*Receiver)

func WithFreshness(d time.Duration) ReceiverOption {
	return func(r *Receiver) { r.freshness = d }
}

func WithLifetime(d time.Duration) ReceiverOption {
	return func(r *Receiver) { r.lifetime = d }
}

// WithBaseline makes the first observed value, absent or not, a baseline
// that is never accepted itself.
func WithBaseline() ReceiverOption {
	return func(r *Receiver) { r.baseline = true }
}

func WithReceiverClock(now func() time.Time) ReceiverOption {
	return func(r *Receiver) { r.now = now }
}

func NewReceiver(opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		freshness: DefaultFreshness,
		lifetime:  DefaultLifetime,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe feeds the signal field of a snapshot. It returns the event and
// true only for a new, fresh signal. Stale signals are still marked
// processed so they are never replayed later.
func (r *Receiver) Observe(s *Signal) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.baseline && !r.seenAny {
		r.seenAny = true
		if s != nil {
			r.lastID = s.ID
		}
		return Event{}, false
	}
	if s == nil || s.ID == "" {
		return Event{}, false
	}
	if r.seenAny && s.ID == r.lastID {
		return Event{}, false
	}
	r.seenAny = true
	r.lastID = s.ID

	now := r.now()
	if now.Sub(time.UnixMilli(s.Timestamp)) > r.freshness {
		return Event{}, false
	}

	ev := Event{Signal: *s, ReceivedAt: now}
	r.queue = append(r.queue, ev)
	return ev, true
}

// Active purges expired events and returns the rest, oldest first.
func (r *Receiver) Active() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeLocked()
	out := make([]Event, len(r.queue))
	copy(out, r.queue)
	return out
}

// Purge drops expired events and reports how many were removed.
func (r *Receiver) Purge() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purgeLocked()
}

func (r *Receiver) purgeLocked() int {
	cutoff := r.now().Add(-r.lifetime)
	kept := r.queue[:0]
	for _, ev := range r.queue {
		if ev.ReceivedAt.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	removed := len(r.queue) - len(kept)
	clear(r.queue[len(kept):])
	r.queue = kept
	return removed
}

// Run purges every interval until ctx is done.
func (r *Receiver) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Purge()
		}
	}
}

// Forget resets de-duplication state, as after leaving a room.
func (r *Receiver) Forget() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seenAny = false
	r.lastID = ""
	r.queue = nil
}

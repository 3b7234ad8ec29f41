// Package signal implements the last-write-wins ephemeral channels carried on
// the room document: reactions and discussion-timer extensions.
package signal

import (
	"strconv"

	"github.com/dom/news-unpacked/internal/domain"
)

// DefaultReactions is the palette offered during discussion.
var DefaultReactions = []string{"👍", "🤔", "😂", "👏", "🎉", "😯"}

// Signal is one pulse read off the document. ID distinguishes two sends of
// the same payload.
type Signal struct {
	ID        string
	Payload   string
	Timestamp int64
}

func FromReaction(r *domain.Reaction) *Signal {
	if r == nil {
		return nil
	}
	return &Signal{ID: r.ID, Payload: r.Emoji, Timestamp: r.Timestamp}
}

// FromExtension adapts the bare timestamp field. The timestamp doubles as
// the id.
func FromExtension(ts *int64) *Signal {
	if ts == nil {
		return nil
	}
	return &Signal{ID: strconv.FormatInt(*ts, 10), Timestamp: *ts}
}

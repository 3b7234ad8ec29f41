package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/google/uuid"
)

// FieldWriter is the plain-overwrite primitive of the room store.
type FieldWriter interface {
	UpdateFields(ctx context.Context, roomID string, patch domain.RoomPatch) error
}

type Sender struct {
	writer FieldWriter
	now    func() time.Time
	newID  func() string
}

func NewSender(writer FieldWriter) *Sender {
	return &Sender{
		writer: writer,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// WithClock replaces the sender's clock.
func (s *Sender) WithClock(now func() time.Time) *Sender {
	s.now = now
	return s
}

// SendReaction overwrites latestReaction with a fresh id so that repeating
// the same emoji is still seen as a new event.
func (s *Sender) SendReaction(ctx context.Context, roomID, emoji string) (Signal, error) {
	if emoji == "" {
		return Signal{}, domain.ErrEmptyText
	}
	reaction := domain.Reaction{
		Emoji:     emoji,
		Timestamp: s.now().UnixMilli(),
		ID:        s.newID(),
	}
	if err := s.writer.UpdateFields(ctx, roomID, domain.RoomPatch{LatestReaction: &reaction}); err != nil {
		return Signal{}, fmt.Errorf("send reaction: %w", err)
	}
	return *FromReaction(&reaction), nil
}

func (s *Sender) SendExtension(ctx context.Context, roomID string) (Signal, error) {
	ts := s.now().UnixMilli()
	if err := s.writer.UpdateFields(ctx, roomID, domain.RoomPatch{LatestExtension: &ts}); err != nil {
		return Signal{}, fmt.Errorf("send extension: %w", err)
	}
	return *FromExtension(&ts), nil
}

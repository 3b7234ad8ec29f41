package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/repository"
	"github.com/dom/news-unpacked/internal/repository/notify"
)

func (s *Store) AppendMessage(ctx context.Context, roomID string, msg domain.ChatMessage) (domain.ChatMessage, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&roomRecord{}).Where("id = ?", roomID).Count(&count).Error; err != nil {
		return domain.ChatMessage{}, translateError(roomID, err)
	}
	if count == 0 {
		return domain.ChatMessage{}, fmt.Errorf("room %s: %w", roomID, domain.ErrRoomNotFound)
	}

	rec := messageRecord{
		ID:         msg.ID,
		RoomID:     roomID,
		TopicID:    msg.TopicID,
		Text:       msg.Text,
		AuthorName: msg.AuthorName,
		CreatedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return domain.ChatMessage{}, translateError(roomID, err)
	}

	s.publish(ctx, notify.MessagesChannel(roomID))
	return rec.message(), nil
}

func (s *Store) ListMessages(ctx context.Context, roomID string) ([]domain.ChatMessage, error) {
	var recs []messageRecord
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at ASC").
		Order("seq ASC").
		Find(&recs).Error
	if err != nil {
		return nil, translateError(roomID, err)
	}

	messages := make([]domain.ChatMessage, len(recs))
	for i, rec := range recs {
		messages[i] = rec.message()
	}
	return messages, nil
}

func (s *Store) WatchMessages(roomID string, fn repository.MessagesListener) repository.Unsubscribe {
	w := repository.NewWatcher(
		func(ctx context.Context) ([]domain.ChatMessage, error) {
			return s.ListMessages(ctx, roomID)
		},
		repository.SameMessages,
		fn,
	)
	cancel := s.notifier.Subscribe(notify.MessagesChannel(roomID), w.Poke)
	w.Start()
	return func() {
		cancel()
		w.Stop()
	}
}

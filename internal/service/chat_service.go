package service

import (
	"context"
	"strings"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/repository"
	"github.com/google/uuid"
)

// ChatService is the append-only discussion log. One stream per room carries
// every topic's thread plus the general one; readers filter locally.
type ChatService struct {
	rooms *RoomService
}

func NewChatService(rooms *RoomService) *ChatService {
	return &ChatService{rooms: rooms}
}

// Send appends a message. A nil or empty topicID posts to the general stream.
func (s *ChatService) Send(ctx context.Context, roomID string, topicID *string, authorName, text string) (domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, domain.ErrEmptyText
	}
	authorName = strings.TrimSpace(authorName)
	if authorName == "" {
		return domain.ChatMessage{}, domain.ErrEmptyName
	}

	msg := domain.ChatMessage{
		ID:         uuid.NewString(),
		Text:       text,
		AuthorName: authorName,
	}
	if topicID != nil && *topicID != "" {
		id := *topicID
		msg.TopicID = &id
	}
	return s.rooms.AppendMessage(ctx, roomID, msg)
}

// Subscribe delivers the messages belonging to topicID, in log order.
func (s *ChatService) Subscribe(roomID string, topicID *string, fn repository.MessagesListener) repository.Unsubscribe {
	return s.rooms.SubscribeMessages(roomID, func(messages []domain.ChatMessage, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		fn(FilterByTopic(messages, topicID), nil)
	})
}

// FilterByTopic keeps the messages of one thread; nil selects the general
// stream.
func FilterByTopic(messages []domain.ChatMessage, topicID *string) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.InTopic(topicID) {
			out = append(out, m)
		}
	}
	return out
}

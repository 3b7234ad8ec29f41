package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatService_Partition(t *testing.T) {
	ctx := context.Background()
	rooms, _ := newRoomService()
	chat := service.NewChatService(rooms)
	code, _, err := rooms.CreateRoom(ctx, "Host")
	require.NoError(t, err)

	topic := "t-1"
	empty := ""
	_, err = chat.Send(ctx, code, nil, "Host", "general one")
	require.NoError(t, err)
	_, err = chat.Send(ctx, code, &topic, "Host", "about t-1")
	require.NoError(t, err)
	stored, err := chat.Send(ctx, code, &empty, "Guest", "general two")
	require.NoError(t, err)
	assert.Nil(t, stored.TopicID, "empty topic id posts to the general stream")
	assert.NotEmpty(t, stored.ID)

	_, err = chat.Send(ctx, code, nil, "Host", " \n ")
	assert.ErrorIs(t, err, domain.ErrEmptyText)
	_, err = chat.Send(ctx, "ZZZZZ9", nil, "Host", "hello")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	general := make(chan []domain.ChatMessage, 10)
	unsubscribe := chat.Subscribe(code, nil, func(messages []domain.ChatMessage, err error) {
		assert.NoError(t, err)
		general <- messages
	})
	defer unsubscribe()

	select {
	case messages := <-general:
		require.Len(t, messages, 2)
		assert.Equal(t, "general one", messages[0].Text)
		assert.Equal(t, "general two", messages[1].Text)
		for _, m := range messages {
			assert.True(t, m.InTopic(nil))
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}

	threaded := service.FilterByTopic([]domain.ChatMessage{
		{ID: "1", TopicID: &topic},
		{ID: "2"},
	}, &topic)
	require.Len(t, threaded, 1)
	assert.Equal(t, "1", threaded[0].ID)
}

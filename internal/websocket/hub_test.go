package websocket_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/testutil"
	"github.com/dom/news-unpacked/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_FeedLifecycle(t *testing.T) {
	ts := testutil.NewTestServer(t)
	room := testutil.NewRoomBuilder().Build(t, ts.Store)
	url := ts.WebSocketURL("/rooms/" + room.ID + "/ws")

	first := testutil.NewWSClient(t, url)
	got := first.ExpectRoomSnapshot(2 * time.Second)
	require.NotNil(t, got)
	assert.Equal(t, room.ID, got.ID)

	// A late joiner is served the feed's last frame without a reload.
	second := testutil.NewWSClient(t, url)
	late := second.ExpectRoomSnapshot(2 * time.Second)
	require.NotNil(t, late)
	assert.Equal(t, int64(1), late.Version)
	assert.Equal(t, 1, ts.Hub.FeedCount())

	first.Close()
	second.Close()
	assert.Eventually(t, func() bool { return ts.Hub.FeedCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	// Reopening the feed subscribes again.
	third := testutil.NewWSClient(t, url)
	require.NotNil(t, third.ExpectRoomSnapshot(2*time.Second))
	assert.Eventually(t, func() bool { return ts.Hub.FeedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_MessagesFeed(t *testing.T) {
	ts := testutil.NewTestServer(t)
	room := testutil.NewRoomBuilder().Build(t, ts.Store)

	client := testutil.NewWSClient(t, ts.WebSocketURL("/rooms/"+room.ID+"/messages/ws"))
	assert.Empty(t, client.ExpectMessagesSnapshot(2*time.Second))

	for i := range 3 {
		_, err := ts.Store.AppendMessage(context.Background(), room.ID, domain.ChatMessage{
			ID:         fmt.Sprintf("m%d", i),
			Text:       "hello",
			AuthorName: "Host",
		})
		require.NoError(t, err)
	}

	// Appends may coalesce, but the last snapshot holds all of them in order.
	var messages []domain.ChatMessage
	for len(messages) < 3 {
		messages = client.ExpectMessagesSnapshot(2 * time.Second)
	}
	assert.Equal(t, "m0", messages[0].ID)
	assert.Equal(t, "m2", messages[2].ID)
}

func TestHub_NoFrameWithoutChange(t *testing.T) {
	ts := testutil.NewTestServer(t)
	room := testutil.NewRoomBuilder().
		WithStatus(domain.RoomStatusPreparation).
		WithTopic(0, "first").
		Build(t, ts.Store)

	client := testutil.NewWSClient(t, ts.WebSocketURL("/rooms/"+room.ID+"/ws"))
	require.NotNil(t, client.ExpectRoomSnapshot(2*time.Second))

	// Re-adding a topic that is already present does not write.
	require.NoError(t, ts.Store.AddTopic(context.Background(), room.ID, room.Topics[0]))
	client.ExpectNoMessage(200 * time.Millisecond)
}

func TestHub_StopIsIdempotent(t *testing.T) {
	ts := testutil.NewTestServer(t)
	room := testutil.NewRoomBuilder().Build(t, ts.Store)

	client := testutil.NewWSClient(t, ts.WebSocketURL("/rooms/"+room.ID+"/ws"))
	require.NotNil(t, client.ExpectRoomSnapshot(2*time.Second))

	ts.Hub.Stop()
	ts.Hub.Stop()
	assert.Zero(t, ts.Hub.FeedCount())
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", domain.ErrRoomNotFound), websocket.CodeRoomNotFound},
		{domain.ErrCreateConflict, websocket.CodeCreateConflict},
		{domain.ErrConflict, websocket.CodeConflict},
		{domain.ErrInvalidPatch, websocket.CodeValidation},
		{domain.ErrTransport, websocket.CodeUnavailable},
		{errors.New("boom"), websocket.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			code := websocket.ErrorCode(tt.err)
			assert.Equal(t, tt.want, code)

			if code == websocket.CodeInternal {
				return
			}
			back := websocket.ErrorFromPayload(websocket.ErrorPayload{Code: code, Message: "m"})
			assert.Equal(t, code, websocket.ErrorCode(back))
			assert.Equal(t, "m", back.Error())
		})
	}
}

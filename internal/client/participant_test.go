package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/dom/news-unpacked/internal/client"
	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/identity"
	"github.com/dom/news-unpacked/internal/repository/memory"
	"github.com/dom/news-unpacked/internal/roomsync"
	"github.com/dom/news-unpacked/internal/service"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// reverse is a deterministic stand-in for the random shuffle.
func reverse(n int, swap func(i, j int)) {
	for i := 0; i < n/2; i++ {
		swap(i, n-1-i)
	}
}

func newParticipant(t *testing.T, store *memory.Store, opts client.Options) *client.Participant {
	t.Helper()
	if opts.IdentityDir == "" {
		opts.IdentityDir = t.TempDir()
	}
	p := client.New(store, zerolog.Nop(), opts)
	t.Cleanup(p.Close)
	return p
}

func waitView(t *testing.T, p *client.Participant, msg string, cond func(v client.View) bool) client.View {
	t.Helper()
	require.Eventually(t, func() bool { return cond(p.View()) }, waitFor, 5*time.Millisecond, msg)
	return p.View()
}

func waitAll(t *testing.T, ps []*client.Participant, msg string, cond func(v client.View) bool) {
	t.Helper()
	for _, p := range ps {
		waitView(t, p, msg, cond)
	}
}

func inPhase(phase domain.RoomStatus) func(client.View) bool {
	return func(v client.View) bool {
		return v.State == roomsync.StateReady && v.Phase == phase
	}
}

func hostCount(players []domain.Player) int {
	n := 0
	for _, p := range players {
		if p.IsHost {
			n++
		}
	}
	return n
}

func TestParticipant_FullGame(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)

	alice := newParticipant(t, store, client.Options{Shuffle: reverse})
	bob := newParticipant(t, store, client.Options{})
	carol := newParticipant(t, store, client.Options{})
	everyone := []*client.Participant{alice, bob, carol}

	// Scenario A: the creator is the only player and the host.
	code, err := alice.CreateRoom(ctx, "Alice")
	require.NoError(t, err)
	assert.True(t, domain.ValidRoomCode(code))

	v := waitView(t, alice, "host sees lobby", inPhase(domain.RoomStatusLobby))
	require.Len(t, v.Players, 1)
	assert.True(t, v.IsHost)
	assert.True(t, v.Players[0].IsHost)
	assert.Equal(t, domain.DefaultSettings(), v.Settings)

	// Scenario B: two more players, still exactly one host.
	require.NoError(t, bob.JoinRoom(ctx, code, "Bob"))
	require.NoError(t, carol.JoinRoom(ctx, code, "Carol"))

	v = waitView(t, alice, "three players", func(v client.View) bool { return len(v.Players) == 3 })
	assert.Equal(t, 1, hostCount(v.Players))
	assert.False(t, bob.View().IsHost)

	err = bob.StartGame(ctx)
	assert.ErrorIs(t, err, domain.ErrNotHost)

	// Scenario C: one topic each, then the host shuffles into selection.
	one := 1
	require.NoError(t, alice.UpdateSettings(ctx, domain.SettingsPatch{MaxTopicsPerPlayer: &one}))
	waitView(t, alice, "settings applied", func(v client.View) bool { return v.Settings.MaxTopicsPerPlayer == 1 })
	require.NoError(t, alice.StartGame(ctx))

	var submitted []string
	for i, p := range everyone {
		waitView(t, p, "preparation reached", inPhase(domain.RoomStatusPreparation))
		topics, err := p.SubmitTopics(ctx, service.TopicDraft{Text: []string{"cats", "taxes", "free will"}[i], MaskIndices: []int{0}})
		require.NoError(t, err)
		submitted = append(submitted, topics[0].ID)
	}

	waitView(t, bob, "bob's own count", func(v client.View) bool { return v.MyTopicCount == 1 })
	_, err = bob.SubmitTopics(ctx, service.TopicDraft{Text: "second"})
	assert.ErrorIs(t, err, domain.ErrTooManyTopics)

	v = waitView(t, alice, "all submitted", func(v client.View) bool { return v.SubmittedPlayers == 3 })
	assert.True(t, v.Can(service.ActionBeginSelection))
	require.NoError(t, alice.BeginSelection(ctx))

	waitAll(t, everyone, "selection reached", inPhase(domain.RoomStatusSelection))
	v = carol.View()
	require.Len(t, v.SelectionOrder, 3)
	var order []string
	for i, nt := range v.SelectionOrder {
		assert.Equal(t, i+1, nt.Number)
		order = append(order, nt.Topic.ID)
	}
	assert.Equal(t, []string{submitted[2], submitted[1], submitted[0]}, order)

	// Scenario D: select, reveal, back to selection.
	target := order[0]
	require.NoError(t, alice.SelectTopic(ctx, target))
	waitAll(t, everyone, "discussion reached", inPhase(domain.RoomStatusDiscussion))
	v = bob.View()
	require.NotNil(t, v.CurrentTopic)
	assert.Equal(t, target, v.CurrentTopic.ID)
	assert.Equal(t, "＿ree will", v.CurrentTopicText)
	assert.True(t, v.TimerRunning)
	assert.InDelta(t, float64(30*time.Minute), float64(v.TimerRemaining), float64(5*time.Second))

	require.NoError(t, alice.Reveal(ctx))
	revealed := func(v client.View) bool { return v.CurrentTopic != nil && v.CurrentTopic.IsRevealed }
	waitAll(t, everyone, "topic revealed", revealed)
	v = bob.View()
	assert.Equal(t, "free will", v.CurrentTopicText)
	assert.ErrorIs(t, alice.Reveal(ctx), domain.ErrTopicAlreadyRevealed)

	require.NoError(t, alice.BackToSelection(ctx))
	v = waitView(t, alice, "back in selection", inPhase(domain.RoomStatusSelection))
	assert.Nil(t, v.CurrentTopic)
	assert.False(t, v.TimerRunning)
	// Revealed topics sort last but keep their number.
	last := v.SelectionOrder[len(v.SelectionOrder)-1]
	assert.Equal(t, target, last.Topic.ID)
	assert.True(t, last.Topic.IsRevealed)
	assert.Equal(t, 1, last.Number)

	err = alice.SelectTopic(ctx, target)
	assert.ErrorIs(t, err, domain.ErrTopicAlreadyRevealed)

	// Scenario E: finish straight from discussion with the topic unrevealed.
	require.NoError(t, alice.SelectTopic(ctx, order[1]))
	waitView(t, alice, "second discussion", inPhase(domain.RoomStatusDiscussion))
	require.NoError(t, alice.Finish(ctx))
	waitAll(t, everyone, "summary reached", inPhase(domain.RoomStatusSummary))
	v = carol.View()
	assert.Nil(t, v.CurrentTopic)
	assert.Equal(t, 1, v.RevealedCount)

	// Scenario F: reset keeps players and nothing else.
	require.NoError(t, alice.Reset(ctx))
	v = waitView(t, bob, "back in lobby", inPhase(domain.RoomStatusLobby))
	assert.Empty(t, v.SelectionOrder)
	assert.Nil(t, v.CurrentTopic)
	assert.Len(t, v.Players, 3)

	room, err := store.GetRoom(ctx, code)
	require.NoError(t, err)
	assert.Empty(t, room.Topics)
	assert.Nil(t, room.CurrentTopicID)
	assert.Nil(t, room.LatestReaction)
	assert.Nil(t, room.LatestExtension)
}

func TestParticipant_ReactionsAndExtensions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)

	host := newParticipant(t, store, client.Options{})
	guest := newParticipant(t, store, client.Options{ReactionLifetime: 10 * time.Second})

	code, err := host.CreateRoom(ctx, "Host")
	require.NoError(t, err)
	require.NoError(t, guest.JoinRoom(ctx, code, "Guest"))
	waitAll(t, []*client.Participant{host, guest}, "ready", inPhase(domain.RoomStatusLobby))

	// Same emoji twice shows up as two events.
	host.React(ctx, "👏")
	waitView(t, guest, "first reaction", func(v client.View) bool { return len(v.Reactions) == 1 })
	host.React(ctx, "👏")
	v := waitView(t, guest, "second reaction", func(v client.View) bool { return len(v.Reactions) == 2 })
	assert.NotEqual(t, v.Reactions[0].ID, v.Reactions[1].ID)
	assert.Equal(t, "👏", v.Reactions[1].Payload)

	// A late joiner does not replay the reaction already on the document.
	late := newParticipant(t, store, client.Options{Freshness: time.Millisecond})
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, late.JoinRoom(ctx, code, "Late"))
	waitView(t, late, "late ready", inPhase(domain.RoomStatusLobby))
	assert.Empty(t, late.View().Reactions)

	// Extensions only exist in discussion.
	assert.ErrorIs(t, host.ExtendTimer(ctx), domain.ErrInvalidPhase)

	require.NoError(t, host.StartGame(ctx))
	for _, p := range []*client.Participant{host, guest, late} {
		waitView(t, p, "preparation", inPhase(domain.RoomStatusPreparation))
		_, err := p.SubmitTopics(ctx, service.TopicDraft{Text: "topic"})
		require.NoError(t, err)
	}
	waitView(t, host, "all in", func(v client.View) bool { return v.SubmittedPlayers == 3 })
	require.NoError(t, host.BeginSelection(ctx))
	v = waitView(t, host, "selection", inPhase(domain.RoomStatusSelection))
	require.NoError(t, host.SelectTopic(ctx, v.SelectionOrder[0].Topic.ID))

	waitView(t, host, "host in discussion", inPhase(domain.RoomStatusDiscussion))
	before := waitView(t, guest, "discussion", inPhase(domain.RoomStatusDiscussion)).TimerRemaining
	require.NoError(t, host.ExtendTimer(ctx))
	waitView(t, guest, "timer extended", func(v client.View) bool {
		return v.TimerRemaining > before+55*time.Second
	})
}

func TestParticipant_ChatPartition(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)

	host := newParticipant(t, store, client.Options{})
	guest := newParticipant(t, store, client.Options{})
	code, err := host.CreateRoom(ctx, "Host")
	require.NoError(t, err)
	require.NoError(t, guest.JoinRoom(ctx, code, "Guest"))
	waitAll(t, []*client.Participant{host, guest}, "ready", inPhase(domain.RoomStatusLobby))

	topic := "topic-1"
	require.NoError(t, host.Chat(ctx, nil, "hello lobby"))
	require.NoError(t, guest.Chat(ctx, &topic, "on topic"))
	require.NoError(t, guest.Chat(ctx, nil, "  hi back  "))
	assert.ErrorIs(t, guest.Chat(ctx, nil, "   "), domain.ErrEmptyText)

	require.Eventually(t, func() bool {
		return len(host.Messages(nil)) == 2 && len(host.Messages(&topic)) == 1
	}, waitFor, 5*time.Millisecond)

	general := host.Messages(nil)
	assert.Equal(t, "hello lobby", general[0].Text)
	assert.Equal(t, "hi back", general[1].Text)
	assert.Equal(t, "Guest", general[1].AuthorName)
	assert.LessOrEqual(t, general[0].CreatedAt, general[1].CreatedAt)
	for _, m := range general {
		assert.Nil(t, m.TopicID)
	}

	threaded := host.Messages(&topic)
	require.NotNil(t, threaded[0].TopicID)
	assert.Equal(t, topic, *threaded[0].TopicID)
}

func TestParticipant_LeaveAndResume(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)

	host := newParticipant(t, store, client.Options{})
	guest := newParticipant(t, store, client.Options{})
	code, err := host.CreateRoom(ctx, "Host")
	require.NoError(t, err)
	require.NoError(t, guest.JoinRoom(ctx, code, "Guest"))
	waitView(t, host, "two players", func(v client.View) bool { return len(v.Players) == 2 })

	guest.Leave()
	v := waitView(t, host, "guest gone", func(v client.View) bool { return len(v.Players) == 1 })
	assert.True(t, v.Players[0].IsHost)
	assert.Equal(t, roomsync.StateIdle, guest.View().State)

	// A restarted process finds its identity on disk and re-enters.
	dir := t.TempDir()
	stored := identity.NewLocalStore(dir, zerolog.Nop())
	returning := identity.Session{ID: "p-returning", Name: "Returning"}
	require.NoError(t, stored.Save(returning))
	require.NoError(t, stored.SaveRoomID(code))

	p := newParticipant(t, store, client.Options{IdentityDir: dir})
	assert.Equal(t, returning, p.Session())
	ok, err := p.Resume(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	v = waitView(t, host, "returning player listed", func(v client.View) bool { return len(v.Players) == 2 })
	assert.Equal(t, "p-returning", v.Players[1].ID)
	assert.False(t, v.Players[1].IsHost)

	fresh := newParticipant(t, store, client.Options{})
	ok, err = fresh.Resume(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParticipant_JoinUnknownRoom(t *testing.T) {
	store := memory.NewStore(nil)
	p := newParticipant(t, store, client.Options{})

	err := p.JoinRoom(context.Background(), "ZZZZZZ", "Nobody")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.Equal(t, roomsync.StateIdle, p.View().State)

	err = p.JoinRoom(context.Background(), "bad", "Nobody")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

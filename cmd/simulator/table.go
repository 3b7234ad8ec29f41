package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dom/news-unpacked/internal/client"
	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/repository"
	"github.com/dom/news-unpacked/internal/service"
	"github.com/rs/zerolog"
)

const phaseTimeout = 15 * time.Second

var sampleTopics = []string{
	"Should homework be abolished",
	"Is free will an illusion",
	"Cats or dogs",
	"Should voting be mandatory",
	"Is a hot dog a sandwich",
	"Would you live forever",
}

var reactions = []string{"👍", "🤔", "😂"}

// table drives a set of bot participants through one room. The first bot is
// the host.
type table struct {
	store repository.Store
	log   zerolog.Logger
	opts  client.Options
	bots  []*client.Participant
}

func newTable(store repository.Store, log zerolog.Logger, opts client.Options) *table {
	return &table{store: store, log: log, opts: opts}
}

func (t *table) newBot() *client.Participant {
	bot := client.New(t.store, t.log, t.opts)
	t.bots = append(t.bots, bot)
	return bot
}

func (t *table) Host(ctx context.Context, name string) (string, error) {
	return t.newBot().CreateRoom(ctx, name)
}

func (t *table) Join(ctx context.Context, code, name string) error {
	return t.newBot().JoinRoom(ctx, code, name)
}

func (t *table) host() *client.Participant {
	return t.bots[0]
}

func (t *table) Phase() domain.RoomStatus {
	return t.host().View().Phase
}

// WaitPlayers blocks until every bot sees n players.
func (t *table) WaitPlayers(n int, timeout time.Duration) error {
	return t.waitAll(timeout, func(v client.View) bool { return len(v.Players) == n })
}

func (t *table) waitAll(timeout time.Duration, cond func(client.View) bool) error {
	deadline := time.Now().Add(timeout)
	for _, bot := range t.bots {
		for !cond(bot.View()) {
			if time.Now().After(deadline) {
				v := bot.View()
				return fmt.Errorf("%s stuck in %s (state %s)", v.Me.Name, v.Phase, v.State)
			}
			time.Sleep(50 * time.Millisecond)
		}
	}
	return nil
}

func (t *table) waitPhase(phase domain.RoomStatus) error {
	return t.waitAll(phaseTimeout, func(v client.View) bool { return v.Phase == phase })
}

// Play runs the game from the lobby and stops once the room reaches stopAt.
func (t *table) Play(ctx context.Context, topics int, stopAt domain.RoomStatus) error {
	host := t.host()
	if stopAt == domain.RoomStatusLobby {
		return nil
	}

	fmt.Print("Starting game... ")
	if err := host.StartGame(ctx); err != nil {
		return err
	}
	if err := t.waitPhase(domain.RoomStatusPreparation); err != nil {
		return err
	}
	fmt.Println("OK")
	if stopAt == domain.RoomStatusPreparation {
		return nil
	}

	fmt.Print("Submitting topics... ")
	for i, bot := range t.bots {
		if _, err := bot.SubmitTopics(ctx, drafts(i, topics)...); err != nil {
			return fmt.Errorf("%s: %w", bot.Session().Name, err)
		}
	}
	if err := t.waitAll(phaseTimeout, func(v client.View) bool { return v.Can(service.ActionBeginSelection) || !v.IsHost }); err != nil {
		return err
	}
	if err := host.BeginSelection(ctx); err != nil {
		return err
	}
	if err := t.waitPhase(domain.RoomStatusSelection); err != nil {
		return err
	}
	fmt.Println("OK")
	if stopAt == domain.RoomStatusSelection {
		return nil
	}

	for round := 0; ; round++ {
		order := host.View().SelectionOrder
		if len(order) == 0 || order[0].Topic.IsRevealed {
			break
		}
		next := order[0]
		fmt.Printf("  Discussing topic #%d... ", next.Number)

		if err := host.SelectTopic(ctx, next.Topic.ID); err != nil {
			return err
		}
		if err := t.waitPhase(domain.RoomStatusDiscussion); err != nil {
			return err
		}

		for i, bot := range t.bots {
			bot.React(ctx, reactions[(round+i)%len(reactions)])
			topicID := next.Topic.ID
			if err := bot.Chat(ctx, &topicID, fmt.Sprintf("%s thinks about #%d", bot.Session().Name, next.Number)); err != nil {
				t.log.Warn().Err(err).Msg("chat failed")
			}
		}

		if err := host.Reveal(ctx); err != nil {
			return err
		}
		if err := t.waitAll(phaseTimeout, func(v client.View) bool { return v.RevealedCount == round+1 }); err != nil {
			return err
		}
		if err := host.BackToSelection(ctx); err != nil {
			return err
		}
		if err := t.waitPhase(domain.RoomStatusSelection); err != nil {
			return err
		}
		fmt.Println("revealed")
	}

	fmt.Print("Finishing... ")
	if err := host.Finish(ctx); err != nil {
		return err
	}
	if err := t.waitPhase(domain.RoomStatusSummary); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

// Follow keeps the bots in the room, submitting topics whenever the host
// opens preparation, until ctx is cancelled.
func (t *table) Follow(ctx context.Context, topics int) {
	submitted := make(map[int]bool)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for i, bot := range t.bots {
			v := bot.View()
			switch v.Phase {
			case domain.RoomStatusPreparation:
				if submitted[i] || v.MyTopicCount > 0 {
					continue
				}
				_, err := bot.SubmitTopics(ctx, drafts(i, topics)...)
				if err != nil && !errors.Is(err, domain.ErrValidation) {
					t.log.Warn().Err(err).Str("bot", v.Me.Name).Msg("submit failed")
					continue
				}
				submitted[i] = true
			case domain.RoomStatusLobby:
				submitted[i] = false
			}
		}
	}
}

func (t *table) Close() {
	for _, bot := range t.bots {
		bot.Close()
	}
}

func drafts(bot, n int) []service.TopicDraft {
	out := make([]service.TopicDraft, n)
	for i := range out {
		text := sampleTopics[(bot*n+i)%len(sampleTopics)]
		out[i] = service.TopicDraft{Text: text, MaskIndices: []int{0, 1}}
	}
	return out
}

package client

import (
	"time"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/identity"
	"github.com/dom/news-unpacked/internal/roomsync"
	"github.com/dom/news-unpacked/internal/service"
	"github.com/dom/news-unpacked/internal/signal"
)

// View is everything a renderer needs, derived from the latest snapshot.
type View struct {
	RoomID  string
	State   roomsync.State
	Err     error
	ChatErr error
	Me      identity.Session

	Phase    domain.RoomStatus
	IsHost   bool
	Players  []domain.Player
	Settings domain.Settings

	// Submission progress during preparation.
	SubmittedPlayers int
	MyTopicCount     int

	SelectionOrder   []service.NumberedTopic
	CurrentTopic     *domain.Topic
	CurrentTopicText string
	RevealedCount    int

	Reactions      []signal.Event
	TimerRunning   bool
	TimerRemaining time.Duration
	Timer          string

	Allowed []service.Action
}

func (v View) Can(action service.Action) bool {
	for _, a := range v.Allowed {
		if a == action {
			return true
		}
	}
	return false
}

func (p *Participant) View() View {
	snap := p.syncer.Current()
	me := p.Session()
	v := View{
		RoomID: snap.RoomID,
		State:  snap.State,
		Err:    snap.Err,
		Me:     me,
	}
	p.mu.Lock()
	v.ChatErr = p.messagesErr
	p.mu.Unlock()

	room := snap.Room
	if room == nil || snap.State != roomsync.StateReady {
		return v
	}

	v.Phase = room.Status
	v.IsHost = room.IsHost(me.ID)
	v.Players = room.Players
	v.Settings = room.Settings
	v.SubmittedPlayers = room.DistinctAuthors()
	v.MyTopicCount = room.TopicCountBy(me.ID)
	v.SelectionOrder = service.SelectionOrder(room)
	for _, t := range room.Topics {
		if t.IsRevealed {
			v.RevealedCount++
		}
	}
	if t, ok := room.CurrentTopic(); ok {
		v.CurrentTopic = &t
		v.CurrentTopicText = t.Display()
	}

	v.Reactions = p.reactions.Active()
	v.TimerRunning = p.countdown.Running()
	v.TimerRemaining = p.countdown.Remaining()
	v.Timer = signal.FormatClock(v.TimerRemaining)
	v.Allowed = p.phases.Allowed(room, me)
	return v
}

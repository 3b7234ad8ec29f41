// Package client is one participant's side of a game: it owns the local
// identity, follows the room document and turns user intents into writes.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/identity"
	"github.com/dom/news-unpacked/internal/repository"
	"github.com/dom/news-unpacked/internal/roomsync"
	"github.com/dom/news-unpacked/internal/service"
	"github.com/dom/news-unpacked/internal/signal"
	"github.com/rs/zerolog"
)

type Options struct {
	// IdentityDir persists the session between runs. Empty keeps it in memory.
	IdentityDir string

	Freshness        time.Duration
	ReactionLifetime time.Duration
	PurgeInterval    time.Duration
	ExtensionStep    time.Duration
	LeaveTimeout     time.Duration

	TransactionAttempts int
	CreateAttempts      int

	Now     func() time.Time
	Shuffle func(n int, swap func(i, j int))
}

func (o Options) withDefaults() Options {
	if o.Freshness <= 0 {
		o.Freshness = signal.DefaultFreshness
	}
	if o.ReactionLifetime <= 0 {
		o.ReactionLifetime = signal.DefaultLifetime
	}
	if o.PurgeInterval <= 0 {
		o.PurgeInterval = signal.DefaultPurgeInterval
	}
	if o.ExtensionStep <= 0 {
		o.ExtensionStep = signal.DefaultExtension
	}
	if o.LeaveTimeout <= 0 {
		o.LeaveTimeout = roomsync.DefaultLeaveTimeout
	}
	if o.TransactionAttempts <= 0 {
		o.TransactionAttempts = repository.DefaultTransactionAttempts
	}
	if o.CreateAttempts <= 0 {
		o.CreateAttempts = service.DefaultCreateAttempts
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Participant struct {
	rooms    *service.RoomService
	phases   *service.PhaseService
	chat     *service.ChatService
	signals  *signal.Sender
	identity *identity.LocalStore
	syncer   *roomsync.Synchronizer

	reactions  *signal.Receiver
	extensions *signal.Receiver
	countdown  *signal.Countdown
	opts       Options
	log        zerolog.Logger

	mu              sync.Mutex
	session         identity.Session
	messages        []domain.ChatMessage
	messagesErr     error
	stopMessages    repository.Unsubscribe
	discussionTopic string

	cancel context.CancelFunc
	done   chan struct{}
}

func New(store repository.Store, log zerolog.Logger, opts Options) *Participant {
	opts = opts.withDefaults()

	svc := service.NewServices(store, log, service.Config{
		TransactionAttempts: opts.TransactionAttempts,
		CreateAttempts:      opts.CreateAttempts,
		Now:                 opts.Now,
		Shuffle:             opts.Shuffle,
	})

	p := &Participant{
		rooms:   svc.Room,
		phases:  svc.Phase,
		chat:    svc.Chat,
		signals: svc.Signals,
		syncer:  roomsync.New(svc.Room, log).WithLeaveTimeout(opts.LeaveTimeout),
		reactions: signal.NewReceiver(
			signal.WithFreshness(opts.Freshness),
			signal.WithLifetime(opts.ReactionLifetime),
			signal.WithReceiverClock(opts.Now),
		),
		extensions: signal.NewReceiver(
			signal.WithFreshness(opts.Freshness),
			signal.WithBaseline(),
			signal.WithReceiverClock(opts.Now),
		),
		countdown: signal.NewCountdown(opts.Now),
		opts:      opts,
		log:       log.With().Str("component", "participant").Logger(),
		done:      make(chan struct{}),
	}
	if opts.IdentityDir != "" {
		p.identity = identity.NewLocalStore(opts.IdentityDir, log)
		p.session = p.identity.Load()
	}
	p.syncer.OnSnapshot(p.reconcile)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go func() {
		defer close(p.done)
		p.reactions.Run(ctx, opts.PurgeInterval)
	}()
	return p
}

func (p *Participant) Session() identity.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// CreateRoom makes this participant the host of a new room and follows it.
func (p *Participant) CreateRoom(ctx context.Context, name string) (string, error) {
	if err := p.requireDetached(); err != nil {
		return "", err
	}
	roomID, host, err := p.rooms.CreateRoom(ctx, name)
	if err != nil {
		return "", err
	}
	if err := p.enter(roomID, identity.FromPlayer(host)); err != nil {
		return "", err
	}
	return roomID, nil
}

// JoinRoom adds this participant to an existing room and follows it.
func (p *Participant) JoinRoom(ctx context.Context, roomID, name string) error {
	if err := p.requireDetached(); err != nil {
		return err
	}
	player, err := p.rooms.JoinRoom(ctx, roomID, name)
	if err != nil {
		return err
	}
	return p.enter(domain.NormalizeRoomCode(roomID), identity.FromPlayer(player))
}

// Resume re-enters the room remembered from a previous run under the
// stored identity. It reports false when there is nothing to resume.
func (p *Participant) Resume(ctx context.Context) (bool, error) {
	if p.identity == nil {
		return false, nil
	}
	session := p.Session()
	roomID, ok := p.identity.LoadRoomID()
	if !ok || !session.Known() {
		return false, nil
	}
	if err := p.requireDetached(); err != nil {
		return false, err
	}
	if err := p.rooms.RejoinRoom(ctx, roomID, session); err != nil {
		return false, err
	}
	return true, p.enter(roomID, session)
}

func (p *Participant) requireDetached() error {
	if p.syncer.Current().State != roomsync.StateIdle {
		return roomsync.ErrAlreadyAttached
	}
	return nil
}

func (p *Participant) enter(roomID string, session identity.Session) error {
	p.mu.Lock()
	p.session = session
	p.discussionTopic = ""
	p.messages = nil
	p.messagesErr = nil
	p.mu.Unlock()

	if p.identity != nil {
		if err := p.identity.Save(session); err != nil {
			p.log.Warn().Err(err).Msg("persist identity")
		}
		if err := p.identity.SaveRoomID(roomID); err != nil {
			p.log.Warn().Err(err).Msg("persist room id")
		}
	}

	p.reactions.Forget()
	p.extensions.Forget()
	p.countdown.Stop()

	if err := p.syncer.Attach(roomID, session); err != nil {
		return err
	}

	stop := p.rooms.SubscribeMessages(roomID, func(messages []domain.ChatMessage, err error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err != nil {
			p.messagesErr = err
			return
		}
		p.messages = messages
		p.messagesErr = nil
	})
	p.mu.Lock()
	p.stopMessages = stop
	p.mu.Unlock()
	return nil
}

// reconcile runs for every room snapshot: it feeds the signal receivers and
// keeps the local countdown aligned with the discussion phase.
func (p *Participant) reconcile(snap roomsync.Snapshot) {
	room := snap.Room
	if snap.State != roomsync.StateReady || room == nil {
		if snap.State != roomsync.StateLoading {
			p.countdown.Stop()
		}
		return
	}

	p.reactions.Observe(signal.FromReaction(room.LatestReaction))

	p.mu.Lock()
	if room.Status != domain.RoomStatusDiscussion || room.CurrentTopicID == nil {
		p.discussionTopic = ""
		p.countdown.Stop()
	} else if *room.CurrentTopicID != p.discussionTopic {
		p.discussionTopic = *room.CurrentTopicID
		p.countdown.Reset(room.Settings.DiscussionTime)
	}
	p.mu.Unlock()

	if _, ok := p.extensions.Observe(signal.FromExtension(room.LatestExtension)); ok {
		p.countdown.Extend(p.opts.ExtensionStep)
	}
	p.extensions.Purge()
}

// room returns the latest snapshot, or ErrRoomNotFound before the first
// delivery and after the document disappeared.
func (p *Participant) room() (*domain.Room, identity.Session, error) {
	snap := p.syncer.Current()
	if snap.Room == nil || snap.State != roomsync.StateReady {
		return nil, identity.Session{}, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, snap.State)
	}
	return snap.Room, p.Session(), nil
}

func (p *Participant) StartGame(ctx context.Context) error {
	return p.intent(func(room *domain.Room, s identity.Session) error {
		return p.phases.StartGame(ctx, room, s)
	})
}

func (p *Participant) SubmitTopics(ctx context.Context, drafts ...service.TopicDraft) ([]domain.Topic, error) {
	room, session, err := p.room()
	if err != nil {
		return nil, err
	}
	return p.phases.SubmitTopics(ctx, room, session, drafts)
}

func (p *Participant) BeginSelection(ctx context.Context) error {
	return p.intent(func(room *domain.Room, s identity.Session) error {
		return p.phases.BeginSelection(ctx, room, s)
	})
}

func (p *Participant) SelectTopic(ctx context.Context, topicID string) error {
	return p.intent(func(room *domain.Room, s identity.Session) error {
		return p.phases.SelectTopic(ctx, room, s, topicID)
	})
}

func (p *Participant) Reveal(ctx context.Context) error {
	return p.intent(func(room *domain.Room, s identity.Session) error {
		return p.phases.Reveal(ctx, room, s)
	})
}

func (p *Participant) BackToSelection(ctx context.Context) error {
	return p.intent(func(room *domain.Room, s identity.Session) error {
		return p.phases.BackToSelection(ctx, room, s)
	})
}

func (p *Participant) Finish(ctx context.Context) error {
	return p.intent(func(room *domain.Room, s identity.Session) error {
		return p.phases.Finish(ctx, room, s)
	})
}

func (p *Participant) Reset(ctx context.Context) error {
	return p.intent(func(room *domain.Room, s identity.Session) error {
		return p.phases.Reset(ctx, room, s)
	})
}

func (p *Participant) UpdateSettings(ctx context.Context, patch domain.SettingsPatch) error {
	return p.intent(func(room *domain.Room, s identity.Session) error {
		return p.phases.UpdateSettings(ctx, room, s, patch)
	})
}

func (p *Participant) ToggleCategory(ctx context.Context, cat domain.TopicCategory) error {
	return p.intent(func(room *domain.Room, s identity.Session) error {
		patch, err := service.ToggleCategory(room.Settings, cat)
		if err != nil {
			return err
		}
		return p.phases.UpdateSettings(ctx, room, s, patch)
	})
}

func (p *Participant) ExtendTimer(ctx context.Context) error {
	return p.intent(func(room *domain.Room, s identity.Session) error {
		return p.phases.ExtendTimer(ctx, room, s)
	})
}

// React broadcasts an emoji. Failures are logged and never returned.
func (p *Participant) React(ctx context.Context, emoji string) {
	room, _, err := p.room()
	if err != nil {
		p.log.Debug().Err(err).Msg("reaction dropped")
		return
	}
	if _, err := p.signals.SendReaction(ctx, room.ID, emoji); err != nil {
		p.log.Warn().Err(err).Str("room", room.ID).Msg("send reaction failed")
	}
}

// Chat posts to the thread of topicID, or the general stream when nil.
func (p *Participant) Chat(ctx context.Context, topicID *string, text string) error {
	room, session, err := p.room()
	if err != nil {
		return err
	}
	_, err = p.chat.Send(ctx, room.ID, topicID, session.Name, text)
	return err
}

// Messages returns the thread of topicID from the latest log snapshot.
func (p *Participant) Messages(topicID *string) []domain.ChatMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return service.FilterByTopic(p.messages, topicID)
}

func (p *Participant) intent(fn func(room *domain.Room, s identity.Session) error) error {
	room, session, err := p.room()
	if err != nil {
		return err
	}
	return fn(room, session)
}

// Leave stops following the room and removes this player in the background.
// The stored identity is kept, the remembered room is forgotten.
func (p *Participant) Leave() {
	p.mu.Lock()
	stop := p.stopMessages
	p.stopMessages = nil
	p.mu.Unlock()
	if stop != nil {
		stop()
	}

	p.syncer.Detach()
	p.countdown.Stop()

	if p.identity != nil {
		if err := p.identity.SaveRoomID(""); err != nil {
			p.log.Warn().Err(err).Msg("forget room id")
		}
	}
}

// Close leaves the room and waits for background work to finish.
func (p *Participant) Close() {
	p.Leave()
	p.syncer.Wait()
	p.cancel()
	<-p.done
}

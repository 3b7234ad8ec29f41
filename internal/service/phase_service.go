package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/identity"
	"github.com/dom/news-unpacked/internal/signal"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Action string

const (
	ActionStartGame       Action = "start_game"
	ActionUpdateSettings  Action = "update_settings"
	ActionSubmitTopics    Action = "submit_topics"
	ActionBeginSelection  Action = "begin_selection"
	ActionSelectTopic     Action = "select_topic"
	ActionReveal          Action = "reveal"
	ActionBackToSelection Action = "back_to_selection"
	ActionExtendTimer     Action = "extend_timer"
	ActionFinish          Action = "finish"
	ActionReset           Action = "reset"
)

// TopicDraft is a topic as typed by a player, before it gets an id.
type TopicDraft struct {
	Text        string
	MaskIndices []int
}

// NumberedTopic pairs a topic with its 1-based position in the shuffled list.
type NumberedTopic struct {
	Number int
	Topic  domain.Topic
}

// PhaseService drives the room through lobby, preparation, selection,
// discussion and summary. Every guard is checked against the caller's latest
// snapshot before anything is written.
type PhaseService struct {
	rooms   *RoomService
	signals *signal.Sender
	shuffle func(n int, swap func(i, j int))
	log     zerolog.Logger
}

type PhaseServiceOption func(*PhaseService)

// WithShuffle replaces the Fisher–Yates shuffle, e.g. with a seeded one.
func WithShuffle(shuffle func(n int, swap func(i, j int))) PhaseServiceOption {
	return func(s *PhaseService) { s.shuffle = shuffle }
}

func NewPhaseService(rooms *RoomService, signals *signal.Sender, log zerolog.Logger, opts ...PhaseServiceOption) *PhaseService {
	s := &PhaseService{
		rooms:   rooms,
		signals: signals,
		shuffle: rand.Shuffle,
		log:     log.With().Str("component", "phase").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allowed lists what session may do right now.
func (s *PhaseService) Allowed(room *domain.Room, session identity.Session) []Action {
	if room == nil {
		return nil
	}
	_, inRoom := room.PlayerByID(session.ID)
	if !inRoom {
		return nil
	}

	var actions []Action
	host := room.IsHost(session.ID)
	switch room.Status {
	case domain.RoomStatusLobby:
		if host {
			actions = append(actions, ActionUpdateSettings)
			if len(room.Players) >= 1 {
				actions = append(actions, ActionStartGame)
			}
		}
	case domain.RoomStatusPreparation:
		if room.TopicCountBy(session.ID) < room.Settings.MaxTopicsPerPlayer {
			actions = append(actions, ActionSubmitTopics)
		}
		if host && room.AllSubmitted() {
			actions = append(actions, ActionBeginSelection)
		}
	case domain.RoomStatusSelection:
		if host {
			if slices.ContainsFunc(room.Topics, func(t domain.Topic) bool { return !t.IsRevealed }) {
				actions = append(actions, ActionSelectTopic)
			}
			actions = append(actions, ActionFinish)
		}
	case domain.RoomStatusDiscussion:
		if host {
			if t, ok := room.CurrentTopic(); ok && !t.IsRevealed {
				actions = append(actions, ActionReveal)
			}
			actions = append(actions, ActionBackToSelection, ActionExtendTimer, ActionFinish)
		}
	case domain.RoomStatusSummary:
		if host {
			actions = append(actions, ActionReset)
		}
	}
	return actions
}

func (s *PhaseService) StartGame(ctx context.Context, room *domain.Room, session identity.Session) error {
	if err := requireHost(room, session, domain.RoomStatusLobby); err != nil {
		return err
	}
	if len(room.Players) < 1 {
		return domain.ErrNoPlayers
	}
	return s.setStatus(ctx, room, domain.RoomStatusPreparation, domain.RoomPatch{})
}

// SubmitTopics adds the session's drafts. Any player may submit while the
// room is in preparation, up to maxTopicsPerPlayer in total.
func (s *PhaseService) SubmitTopics(ctx context.Context, room *domain.Room, session identity.Session, drafts []TopicDraft) ([]domain.Topic, error) {
	if err := requirePhase(room, domain.RoomStatusPreparation); err != nil {
		return nil, err
	}
	if _, ok := room.PlayerByID(session.ID); !ok {
		return nil, domain.ErrNotInRoom
	}
	if len(drafts) == 0 {
		return nil, domain.ErrEmptyText
	}
	if room.TopicCountBy(session.ID)+len(drafts) > room.Settings.MaxTopicsPerPlayer {
		return nil, fmt.Errorf("%w: at most %d", domain.ErrTooManyTopics, room.Settings.MaxTopicsPerPlayer)
	}

	topics := make([]domain.Topic, len(drafts))
	for i, d := range drafts {
		text := strings.TrimSpace(d.Text)
		if text == "" {
			return nil, fmt.Errorf("%w: topic %d", domain.ErrEmptyText, i+1)
		}
		topics[i] = domain.Topic{
			ID:           uuid.NewString(),
			AuthorID:     session.ID,
			OriginalText: text,
			MaskIndices:  domain.SanitizeMaskIndices(text, d.MaskIndices),
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range topics {
		g.Go(func() error {
			return s.rooms.AddTopic(gctx, room.ID, topic)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("submit topics: %w", err)
	}

	s.log.Debug().Str("room", room.ID).Str("player", session.ID).Int("count", len(topics)).Msg("topics submitted")
	return topics, nil
}

// BeginSelection shuffles the topics once every player has submitted.
func (s *PhaseService) BeginSelection(ctx context.Context, room *domain.Room, session identity.Session) error {
	if err := requireHost(room, session, domain.RoomStatusPreparation); err != nil {
		return err
	}
	if !room.AllSubmitted() {
		return fmt.Errorf("%w: %d of %d players", domain.ErrNotAllSubmitted, room.DistinctAuthors(), len(room.Players))
	}

	topics := room.Clone().Topics
	s.shuffle(len(topics), func(i, j int) {
		topics[i], topics[j] = topics[j], topics[i]
	})
	return s.setStatus(ctx, room, domain.RoomStatusSelection, domain.RoomPatch{Topics: &topics})
}

func (s *PhaseService) SelectTopic(ctx context.Context, room *domain.Room, session identity.Session, topicID string) error {
	if err := requireHost(room, session, domain.RoomStatusSelection); err != nil {
		return err
	}
	topic, _, ok := room.TopicByID(topicID)
	if !ok {
		return domain.ErrTopicNotFound
	}
	if topic.IsRevealed {
		return domain.ErrTopicAlreadyRevealed
	}
	return s.setStatus(ctx, room, domain.RoomStatusDiscussion, domain.RoomPatch{CurrentTopicID: &topicID})
}

// Reveal exposes the full text of the topic under discussion. The whole
// topics array is rewritten with that single flag flipped.
func (s *PhaseService) Reveal(ctx context.Context, room *domain.Room, session identity.Session) error {
	if err := requireHost(room, session, domain.RoomStatusDiscussion); err != nil {
		return err
	}
	current, ok := room.CurrentTopic()
	if !ok {
		return domain.ErrNoCurrentTopic
	}
	if current.IsRevealed {
		return domain.ErrTopicAlreadyRevealed
	}

	topics := room.Clone().Topics
	for i := range topics {
		if topics[i].ID == current.ID {
			topics[i].IsRevealed = true
		}
	}
	return s.rooms.UpdateFields(ctx, room.ID, domain.RoomPatch{Topics: &topics})
}

func (s *PhaseService) BackToSelection(ctx context.Context, room *domain.Room, session identity.Session) error {
	if err := requireHost(room, session, domain.RoomStatusDiscussion); err != nil {
		return err
	}
	return s.setStatus(ctx, room, domain.RoomStatusSelection, domain.RoomPatch{ClearCurrentTopic: true})
}

// Finish ends the game from selection or discussion, whatever the reveal
// state of the current topic.
func (s *PhaseService) Finish(ctx context.Context, room *domain.Room, session identity.Session) error {
	if err := requireHost(room, session, domain.RoomStatusSelection, domain.RoomStatusDiscussion); err != nil {
		return err
	}
	patch := domain.RoomPatch{}
	if room.CurrentTopicID != nil {
		patch.ClearCurrentTopic = true
	}
	return s.setStatus(ctx, room, domain.RoomStatusSummary, patch)
}

// Reset returns to the lobby with the same players and nothing else.
func (s *PhaseService) Reset(ctx context.Context, room *domain.Room, session identity.Session) error {
	if err := requireHost(room, session, domain.RoomStatusSummary); err != nil {
		return err
	}
	return s.setStatus(ctx, room, domain.RoomStatusLobby, domain.RoomPatch{
		Topics:               &[]domain.Topic{},
		ClearCurrentTopic:    true,
		ClearLatestReaction:  true,
		ClearLatestExtension: true,
	})
}

func (s *PhaseService) UpdateSettings(ctx context.Context, room *domain.Room, session identity.Session, patch domain.SettingsPatch) error {
	if err := requireHost(room, session, domain.RoomStatusLobby); err != nil {
		return err
	}
	if err := patch.Validate(); err != nil {
		return err
	}
	return s.rooms.UpdateFields(ctx, room.ID, domain.RoomPatch{Settings: &patch})
}

// ToggleCategory flips cat in the enabled set. An absent list means every
// category is enabled, and the last enabled category cannot be removed.
func ToggleCategory(settings domain.Settings, cat domain.TopicCategory) (domain.SettingsPatch, error) {
	if !cat.Valid() {
		return domain.SettingsPatch{}, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidSettings, cat)
	}

	enabled := settings.EnabledCategories()
	var next []domain.TopicCategory
	if slices.Contains(enabled, cat) {
		if len(enabled) == 1 {
			return domain.SettingsPatch{}, domain.ErrLastCategory
		}
		next = slices.DeleteFunc(enabled, func(c domain.TopicCategory) bool { return c == cat })
	} else {
		for _, c := range domain.AllTopicCategories {
			if c == cat || slices.Contains(enabled, c) {
				next = append(next, c)
			}
		}
	}
	return domain.SettingsPatch{GachaCategories: &next}, nil
}

// ExtendTimer pushes an extension pulse to every participant.
func (s *PhaseService) ExtendTimer(ctx context.Context, room *domain.Room, session identity.Session) error {
	if err := requireHost(room, session, domain.RoomStatusDiscussion); err != nil {
		return err
	}
	_, err := s.signals.SendExtension(ctx, room.ID)
	return err
}

// SelectionOrder lists unrevealed topics before revealed ones, each group in
// shuffled order. Number is the topic's position in the shuffled list.
func SelectionOrder(room *domain.Room) []NumberedTopic {
	if room == nil {
		return nil
	}
	out := make([]NumberedTopic, len(room.Topics))
	for i, t := range room.Topics {
		out[i] = NumberedTopic{Number: i + 1, Topic: t}
	}
	slices.SortStableFunc(out, func(a, b NumberedTopic) int {
		switch {
		case a.Topic.IsRevealed == b.Topic.IsRevealed:
			return 0
		case a.Topic.IsRevealed:
			return 1
		default:
			return -1
		}
	})
	return out
}

func (s *PhaseService) setStatus(ctx context.Context, room *domain.Room, status domain.RoomStatus, patch domain.RoomPatch) error {
	patch.Status = &status
	if err := s.rooms.UpdateFields(ctx, room.ID, patch); err != nil {
		return err
	}
	s.log.Info().Str("room", room.ID).Str("from", string(room.Status)).Str("to", string(status)).Msg("phase changed")
	return nil
}

func requirePhase(room *domain.Room, allowed ...domain.RoomStatus) error {
	if room == nil {
		return domain.ErrRoomNotFound
	}
	if !slices.Contains(allowed, room.Status) {
		return fmt.Errorf("%w: room is in %s", domain.ErrInvalidPhase, room.Status)
	}
	return nil
}

func requireHost(room *domain.Room, session identity.Session, allowed ...domain.RoomStatus) error {
	if err := requirePhase(room, allowed...); err != nil {
		return err
	}
	if !room.IsHost(session.ID) {
		return domain.ErrNotHost
	}
	return nil
}

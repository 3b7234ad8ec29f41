package domain

import "slices"

type RoomStatus string

const (
	RoomStatusLobby       RoomStatus = "lobby"
	RoomStatusPreparation RoomStatus = "preparation"
	RoomStatusSelection   RoomStatus = "selection"
	RoomStatusDiscussion  RoomStatus = "discussion"
	RoomStatusSummary     RoomStatus = "summary"
)

// Valid reports whether s is one of the five game phases.
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomStatusLobby, RoomStatusPreparation, RoomStatusSelection, RoomStatusDiscussion, RoomStatusSummary:
		return true
	}
	return false
}

const (
	DefaultDiscussionTime     = 1800
	DefaultMaxTopicsPerPlayer = 5
)

// Room is the shared document coordinating one game session. Every connected
// participant reads and writes the same document; Version is assigned by the
// store and increases with every committed write.
type Room struct {
	ID              string     `json:"id"`
	Status          RoomStatus `json:"status"`
	Players         []Player   `json:"players"`
	Topics          []Topic    `json:"topics"`
	CurrentTopicID  *string    `json:"currentTopicId"`
	Settings        Settings   `json:"settings"`
	CreatedAt       int64      `json:"createdAt"`
	LatestReaction  *Reaction  `json:"latestReaction,omitempty"`
	LatestExtension *int64     `json:"latestExtension,omitempty"`
	Version         int64      `json:"version"`
}

type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

type Settings struct {
	DiscussionTime     int             `json:"discussionTime"`
	MaxTopicsPerPlayer int             `json:"maxTopicsPerPlayer"`
	GachaCategories    []TopicCategory `json:"gachaCategories,omitempty"`
}

// DefaultSettings returns the settings a freshly created room starts with.
func DefaultSettings() Settings {
	return Settings{
		DiscussionTime:     DefaultDiscussionTime,
		MaxTopicsPerPlayer: DefaultMaxTopicsPerPlayer,
	}
}

// EnabledCategories resolves the absent-means-all rule for gacha categories.
func (s Settings) EnabledCategories() []TopicCategory {
	if len(s.GachaCategories) == 0 {
		return slices.Clone(AllTopicCategories)
	}
	return slices.Clone(s.GachaCategories)
}

type Reaction struct {
	Emoji     string `json:"emoji"`
	Timestamp int64  `json:"timestamp"`
	ID        string `json:"id"`
}

// NewRoom builds the initial lobby document for a room created by host.
func NewRoom(id string, host Player, createdAt int64) *Room {
	host.IsHost = true
	return &Room{
		ID:        id,
		Status:    RoomStatusLobby,
		Players:   []Player{host},
		Topics:    []Topic{},
		Settings:  DefaultSettings(),
		CreatedAt: createdAt,
	}
}

// Host returns the player holding the host flag.
func (r *Room) Host() (Player, bool) {
	for _, p := range r.Players {
		if p.IsHost {
			return p, true
		}
	}
	return Player{}, false
}

func (r *Room) PlayerByID(id string) (Player, bool) {
	for _, p := range r.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// IsHost reports whether playerID is a present player holding the host flag.
func (r *Room) IsHost(playerID string) bool {
	p, ok := r.PlayerByID(playerID)
	return ok && p.IsHost
}

func (r *Room) TopicByID(id string) (Topic, int, bool) {
	for i, t := range r.Topics {
		if t.ID == id {
			return t, i, true
		}
	}
	return Topic{}, -1, false
}

// CurrentTopic resolves CurrentTopicID against Topics.
func (r *Room) CurrentTopic() (Topic, bool) {
	if r.CurrentTopicID == nil {
		return Topic{}, false
	}
	t, _, ok := r.TopicByID(*r.CurrentTopicID)
	return t, ok
}

// DistinctAuthors counts the distinct author ids among submitted topics.
func (r *Room) DistinctAuthors() int {
	seen := make(map[string]struct{}, len(r.Topics))
	for _, t := range r.Topics {
		seen[t.AuthorID] = struct{}{}
	}
	return len(seen)
}

func (r *Room) TopicCountBy(authorID string) int {
	n := 0
	for _, t := range r.Topics {
		if t.AuthorID == authorID {
			n++
		}
	}
	return n
}

// AllSubmitted reports whether every current player has authored at least one topic.
func (r *Room) AllSubmitted() bool {
	return r.DistinctAuthors() == len(r.Players)
}

// Clone returns a deep copy so that snapshots handed to listeners never alias
// the store's own copy.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Players = slices.Clone(r.Players)
	c.Topics = make([]Topic, len(r.Topics))
	for i, t := range r.Topics {
		t.MaskIndices = slices.Clone(t.MaskIndices)
		c.Topics[i] = t
	}
	c.Settings.GachaCategories = slices.Clone(r.Settings.GachaCategories)
	if r.CurrentTopicID != nil {
		id := *r.CurrentTopicID
		c.CurrentTopicID = &id
	}
	if r.LatestReaction != nil {
		reaction := *r.LatestReaction
		c.LatestReaction = &reaction
	}
	if r.LatestExtension != nil {
		ext := *r.LatestExtension
		c.LatestExtension = &ext
	}
	return &c
}

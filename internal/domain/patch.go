package domain

import (
	"fmt"
	"slices"
)

// RoomPatch is a field-level overwrite of a Room. Nil fields are left alone;
// the Clear flags null out optional fields. Players are deliberately absent:
// the player list only changes inside a transaction.
type RoomPatch struct {
	Status               *RoomStatus    `json:"status,omitempty"`
	Topics               *[]Topic       `json:"topics,omitempty"`
	CurrentTopicID       *string        `json:"currentTopicId,omitempty"`
	ClearCurrentTopic    bool           `json:"clearCurrentTopic,omitempty"`
	Settings             *SettingsPatch `json:"settings,omitempty"`
	LatestReaction       *Reaction      `json:"latestReaction,omitempty"`
	ClearLatestReaction  bool           `json:"clearLatestReaction,omitempty"`
	LatestExtension      *int64         `json:"latestExtension,omitempty"`
	ClearLatestExtension bool           `json:"clearLatestExtension,omitempty"`
}

type SettingsPatch struct {
	DiscussionTime       *int             `json:"discussionTime,omitempty"`
	MaxTopicsPerPlayer   *int             `json:"maxTopicsPerPlayer,omitempty"`
	GachaCategories      *[]TopicCategory `json:"gachaCategories,omitempty"`
	ClearGachaCategories bool             `json:"clearGachaCategories,omitempty"`
}

func (p RoomPatch) Empty() bool {
	return p.Status == nil && p.Topics == nil && p.CurrentTopicID == nil && !p.ClearCurrentTopic &&
		p.Settings == nil && p.LatestReaction == nil && !p.ClearLatestReaction &&
		p.LatestExtension == nil && !p.ClearLatestExtension
}

// Validate rejects patches that would write an invalid document.
func (p RoomPatch) Validate() error {
	if p.Empty() {
		return fmt.Errorf("%w: empty", ErrInvalidPatch)
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidPatch, *p.Status)
	}
	if p.CurrentTopicID != nil && p.ClearCurrentTopic {
		return fmt.Errorf("%w: currentTopicId both set and cleared", ErrInvalidPatch)
	}
	if p.LatestReaction != nil && p.ClearLatestReaction {
		return fmt.Errorf("%w: latestReaction both set and cleared", ErrInvalidPatch)
	}
	if p.LatestExtension != nil && p.ClearLatestExtension {
		return fmt.Errorf("%w: latestExtension both set and cleared", ErrInvalidPatch)
	}
	if p.Settings != nil {
		if err := p.Settings.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (p SettingsPatch) Validate() error {
	if p.DiscussionTime != nil && *p.DiscussionTime <= 0 {
		return fmt.Errorf("%w: discussionTime must be positive", ErrInvalidSettings)
	}
	if p.MaxTopicsPerPlayer != nil && *p.MaxTopicsPerPlayer <= 0 {
		return fmt.Errorf("%w: maxTopicsPerPlayer must be positive", ErrInvalidSettings)
	}
	if p.GachaCategories != nil {
		if p.ClearGachaCategories {
			return fmt.Errorf("%w: gachaCategories both set and cleared", ErrInvalidSettings)
		}
		if len(*p.GachaCategories) == 0 {
			return ErrLastCategory
		}
		for _, c := range *p.GachaCategories {
			if !c.Valid() {
				return fmt.Errorf("%w: unknown category %q", ErrInvalidSettings, c)
			}
		}
	}
	return nil
}

// Apply overwrites the patched fields of room in place.
func (p RoomPatch) Apply(room *Room) {
	if p.Status != nil {
		room.Status = *p.Status
	}
	if p.Topics != nil {
		topics := make([]Topic, len(*p.Topics))
		for i, t := range *p.Topics {
			t.MaskIndices = slices.Clone(t.MaskIndices)
			topics[i] = t
		}
		room.Topics = topics
	}
	if p.CurrentTopicID != nil {
		id := *p.CurrentTopicID
		room.CurrentTopicID = &id
	}
	if p.ClearCurrentTopic {
		room.CurrentTopicID = nil
	}
	if p.Settings != nil {
		p.Settings.apply(&room.Settings)
	}
	if p.LatestReaction != nil {
		reaction := *p.LatestReaction
		room.LatestReaction = &reaction
	}
	if p.ClearLatestReaction {
		room.LatestReaction = nil
	}
	if p.LatestExtension != nil {
		ext := *p.LatestExtension
		room.LatestExtension = &ext
	}
	if p.ClearLatestExtension {
		room.LatestExtension = nil
	}
}

func (p SettingsPatch) apply(s *Settings) {
	if p.DiscussionTime != nil {
		s.DiscussionTime = *p.DiscussionTime
	}
	if p.MaxTopicsPerPlayer != nil {
		s.MaxTopicsPerPlayer = *p.MaxTopicsPerPlayer
	}
	if p.GachaCategories != nil {
		s.GachaCategories = slices.Clone(*p.GachaCategories)
	}
	if p.ClearGachaCategories {
		s.GachaCategories = nil
	}
}

// AddTopic appends topic unless a topic with the same id is already present.
// It reports whether the room changed.
func (r *Room) AddTopic(topic Topic) bool {
	if _, _, ok := r.TopicByID(topic.ID); ok {
		return false
	}
	topic.MaskIndices = slices.Clone(topic.MaskIndices)
	r.Topics = append(r.Topics, topic)
	return true
}

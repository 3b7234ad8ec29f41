package domain

import (
	"slices"
	"strings"
)

type TopicCategory string

const (
	TopicCategoryBasic      TopicCategory = "basic"
	TopicCategoryDiscussion TopicCategory = "discussion"
	TopicCategoryPolitics   TopicCategory = "politics"
	TopicCategoryPhilosophy TopicCategory = "philosophy"
)

var AllTopicCategories = []TopicCategory{
	TopicCategoryBasic,
	TopicCategoryDiscussion,
	TopicCategoryPolitics,
	TopicCategoryPhilosophy,
}

func (c TopicCategory) Valid() bool {
	return slices.Contains(AllTopicCategories, c)
}

// MaskRune replaces hidden characters in a topic's display text.
const MaskRune = '＿'

// Topic is a discussion prompt. MaskIndices are rune offsets into
// OriginalText that stay hidden until the host reveals the topic.
type Topic struct {
	ID           string `json:"id"`
	AuthorID     string `json:"authorId"`
	OriginalText string `json:"originalText"`
	MaskIndices  []int  `json:"maskIndices"`
	IsRevealed   bool   `json:"isRevealed"`
}

// Display renders the topic text, hiding masked offsets until revealed.
func (t Topic) Display() string {
	if t.IsRevealed || len(t.MaskIndices) == 0 {
		return t.OriginalText
	}
	hidden := make(map[int]struct{}, len(t.MaskIndices))
	for _, i := range t.MaskIndices {
		hidden[i] = struct{}{}
	}
	var b strings.Builder
	for i, r := range []rune(t.OriginalText) {
		if _, ok := hidden[i]; ok {
			b.WriteRune(MaskRune)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SanitizeMaskIndices drops offsets outside text and duplicate offsets, and
// returns the rest in ascending order.
func SanitizeMaskIndices(text string, indices []int) []int {
	n := len([]rune(text))
	out := make([]int, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= n {
			continue
		}
		out = append(out, i)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

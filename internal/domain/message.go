package domain

// ChatMessage is one entry of a room's append-only message log. A nil
// TopicID belongs to the general lobby stream.
type ChatMessage struct {
	ID         string  `json:"id"`
	TopicID    *string `json:"topicId"`
	Text       string  `json:"text"`
	AuthorName string  `json:"authorName"`
	CreatedAt  int64   `json:"createdAt"`
}

// InTopic reports whether the message belongs to the stream selected by
// topicID, where nil or empty selects the general stream.
func (m ChatMessage) InTopic(topicID *string) bool {
	own := ""
	if m.TopicID != nil {
		own = *m.TopicID
	}
	want := ""
	if topicID != nil {
		want = *topicID
	}
	return own == want
}

// Clone returns a copy that shares no memory with m.
func (m ChatMessage) Clone() ChatMessage {
	if m.TopicID != nil {
		topicID := *m.TopicID
		m.TopicID = &topicID
	}
	return m
}

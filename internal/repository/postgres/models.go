package postgres

import (
	"time"

	"github.com/dom/news-unpacked/internal/domain"
	"gorm.io/datatypes"
)

// roomRecord stores the whole Room document as JSON. Version and Status are
// lifted into columns for compare-and-swap and retention queries.
type roomRecord struct {
	ID        string                          `gorm:"primaryKey;size:32"`
	Version   int64                           `gorm:"not null"`
	Status    string                          `gorm:"type:varchar(20);not null;index"`
	Document  datatypes.JSONType[domain.Room] `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (roomRecord) TableName() string {
	return "rooms"
}

func newRoomRecord(room *domain.Room, version int64) roomRecord {
	doc := room.Clone()
	doc.Version = version
	return roomRecord{
		ID:       doc.ID,
		Version:  version,
		Status:   string(doc.Status),
		Document: datatypes.NewJSONType(*doc),
	}
}

func (r roomRecord) room() *domain.Room {
	doc := r.Document.Data()
	room := doc.Clone()
	room.Version = r.Version
	if room.Players == nil {
		room.Players = []domain.Player{}
	}
	if room.Topics == nil {
		room.Topics = []domain.Topic{}
	}
	return room
}

// messageRecord is one row of a room's append-only log. Seq breaks ties
// between messages written in the same millisecond.
type messageRecord struct {
	Seq        int64     `gorm:"primaryKey;autoIncrement"`
	ID         string    `gorm:"uniqueIndex;size:36;not null"`
	RoomID     string    `gorm:"index:idx_messages_room_created,priority:1;size:32;not null"`
	TopicID    *string   `gorm:"size:64"`
	Text       string    `gorm:"not null"`
	AuthorName string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"index:idx_messages_room_created,priority:2"`
}

func (messageRecord) TableName() string {
	return "messages"
}

func (m messageRecord) message() domain.ChatMessage {
	return domain.ChatMessage{
		ID:         m.ID,
		TopicID:    m.TopicID,
		Text:       m.Text,
		AuthorName: m.AuthorName,
		CreatedAt:  m.CreatedAt.UnixMilli(),
	}
}

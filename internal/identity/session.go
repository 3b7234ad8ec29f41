// Package identity holds the participant's own identity: who this process
// is playing as, threaded explicitly into every operation.
package identity

import "github.com/dom/news-unpacked/internal/domain"

// Session is the local participant. The zero value is an anonymous session
// that has not created or joined a room yet.
type Session struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

func FromPlayer(p domain.Player) Session {
	return Session{ID: p.ID, Name: p.Name, IsHost: p.IsHost}
}

// Known reports whether the session identifies a player.
func (s Session) Known() bool {
	return s.ID != ""
}

func (s Session) Player() domain.Player {
	return domain.Player{ID: s.ID, Name: s.Name, IsHost: s.IsHost}
}

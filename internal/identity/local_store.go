package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

const (
	PlayerKey = "neun_player"
	RoomIDKey = "neun_roomId"
)

// LocalStore keeps the session and the last visited room code on local disk,
// one JSON file per key. The stored player is written on create/join and
// never refreshed from the room document.
type LocalStore struct {
	dir string
	log zerolog.Logger
}

func NewLocalStore(dir string, log zerolog.Logger) *LocalStore {
	return &LocalStore{
		dir: dir,
		log: log.With().Str("component", "identity").Logger(),
	}
}

// Load returns the stored session. Missing or unreadable data yields the
// anonymous session.
func (s *LocalStore) Load() Session {
	var session Session
	ok, err := s.read(PlayerKey, &session)
	if err != nil {
		s.log.Warn().Err(err).Msg("discarding stored player")
		return Session{}
	}
	if !ok || !session.Known() {
		return Session{}
	}
	return session
}

func (s *LocalStore) Save(session Session) error {
	return s.write(PlayerKey, session)
}

func (s *LocalStore) LoadRoomID() (string, bool) {
	var roomID string
	ok, err := s.read(RoomIDKey, &roomID)
	if err != nil {
		s.log.Warn().Err(err).Msg("discarding stored room id")
		return "", false
	}
	roomID = strings.TrimSpace(roomID)
	return roomID, ok && roomID != ""
}

func (s *LocalStore) SaveRoomID(roomID string) error {
	return s.write(RoomIDKey, roomID)
}

// Clear forgets both the session and the room id.
func (s *LocalStore) Clear() error {
	var errs []error
	for _, key := range []string{PlayerKey, RoomIDKey} {
		if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *LocalStore) read(key string, v any) (bool, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// write replaces the file atomically so a crash never leaves half a record.
func (s *LocalStore) write(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

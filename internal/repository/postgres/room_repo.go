package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/repository"
	"github.com/dom/news-unpacked/internal/repository/notify"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store keeps Room documents and their message logs in PostgreSQL and
// publishes a pulse on notifier after every committed write.
type Store struct {
	db       *gorm.DB
	notifier notify.Notifier
	log      zerolog.Logger
}

func NewStore(db *gorm.DB, notifier notify.Notifier, log zerolog.Logger) *Store {
	if notifier == nil {
		notifier = notify.NewLocal()
	}
	return &Store{
		db:       db,
		notifier: notifier,
		log:      log.With().Str("component", "store.postgres").Logger(),
	}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) CreateRoom(ctx context.Context, room *domain.Room) error {
	rec := newRoomRecord(room, 1)
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec)
	if res.Error != nil {
		return translateError(room.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("room %s: %w", room.ID, domain.ErrCreateConflict)
	}

	room.Version = 1
	s.publish(ctx, notify.RoomChannel(room.ID))
	return nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (*domain.Room, error) {
	var rec roomRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, translateError(id, err)
	}
	return rec.room(), nil
}

func (s *Store) ReplaceRoom(ctx context.Context, room *domain.Room, expectedVersion int64) error {
	next := newRoomRecord(room, expectedVersion+1)
	res := s.db.WithContext(ctx).
		Model(&roomRecord{}).
		Where("id = ? AND version = ?", room.ID, expectedVersion).
		Updates(map[string]any{
			"version":    next.Version,
			"status":     next.Status,
			"document":   next.Document,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return translateError(room.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&roomRecord{}).Where("id = ?", room.ID).Count(&count).Error; err != nil {
			return translateError(room.ID, err)
		}
		if count == 0 {
			return fmt.Errorf("room %s: %w", room.ID, domain.ErrRoomNotFound)
		}
		return fmt.Errorf("room %s expected version %d: %w", room.ID, expectedVersion, domain.ErrConflict)
	}

	s.publish(ctx, notify.RoomChannel(room.ID))
	return nil
}

func (s *Store) PatchRoom(ctx context.Context, id string, patch domain.RoomPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, id, func(room *domain.Room) bool {
		patch.Apply(room)
		return true
	})
}

func (s *Store) AddTopic(ctx context.Context, id string, topic domain.Topic) error {
	return s.mutate(ctx, id, func(room *domain.Room) bool {
		return room.AddTopic(topic)
	})
}

// mutate applies fn under a row lock so that concurrent field writes and
// topic appends serialize on the database instead of losing updates.
func (s *Store) mutate(ctx context.Context, id string, fn func(room *domain.Room) bool) error {
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec roomRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rec, "id = ?", id).Error; err != nil {
			return err
		}

		room := rec.room()
		if !fn(room) {
			return nil
		}
		changed = true

		next := newRoomRecord(room, rec.Version+1)
		return tx.Model(&roomRecord{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"version":    next.Version,
				"status":     next.Status,
				"document":   next.Document,
				"updated_at": time.Now(),
			}).Error
	})
	if err != nil {
		return translateError(id, err)
	}

	if changed {
		s.publish(ctx, notify.RoomChannel(id))
	}
	return nil
}

// DeleteRoom removes a room and its log. Only retention jobs call this.
func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", id).Delete(&messageRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&roomRecord{}, "id = ?", id).Error
	})
	if err != nil {
		return translateError(id, err)
	}
	s.publish(ctx, notify.RoomChannel(id))
	return nil
}

// DeleteInactiveBefore sweeps rooms not written since cutoff.
func (s *Store) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&roomRecord{}).Where("updated_at < ?", cutoff).Pluck("id", &ids).Error; err != nil {
		return 0, translateError("", err)
	}
	for _, id := range ids {
		if err := s.DeleteRoom(ctx, id); err != nil {
			return 0, err
		}
	}
	return int64(len(ids)), nil
}

func (s *Store) WatchRoom(id string, fn repository.RoomListener) repository.Unsubscribe {
	w := repository.NewWatcher(
		func(ctx context.Context) (*domain.Room, error) {
			room, err := s.GetRoom(ctx, id)
			if errors.Is(err, domain.ErrRoomNotFound) {
				return nil, nil
			}
			return room, err
		},
		repository.SameRoom,
		fn,
	)
	cancel := s.notifier.Subscribe(notify.RoomChannel(id), w.Poke)
	w.Start()
	return func() {
		cancel()
		w.Stop()
	}
}

// publish failures only delay watchers until the next write, so they are
// logged rather than returned to a writer whose commit already succeeded.
func (s *Store) publish(ctx context.Context, channel string) {
	if err := s.notifier.Publish(ctx, channel); err != nil {
		s.log.Warn().Err(err).Str("channel", channel).Msg("change notification failed")
	}
}

func translateError(id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("room %s: %w", id, domain.ErrRoomNotFound)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("room %s: %w: %s", id, domain.ErrConflict, pgErr.Message)
		case "23505":
			return fmt.Errorf("room %s: %w: %s", id, domain.ErrCreateConflict, pgErr.Message)
		}
		return fmt.Errorf("room %s: %s", id, pgErr.Message)
	}

	return fmt.Errorf("room %s: %w: %v", id, domain.ErrTransport, err)
}

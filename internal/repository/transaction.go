package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/dom/news-unpacked/internal/domain"
)

// DefaultTransactionAttempts matches the retry budget of hosted document stores.
const DefaultTransactionAttempts = 5

// TxFunc mutates a freshly read copy of the room. Returning an error aborts
// the transaction without writing.
type TxFunc func(room *domain.Room) error

// ErrSkipWrite lets a TxFunc end the transaction successfully without
// writing, when the read copy already has the desired shape.
var ErrSkipWrite = errors.New("transaction needs no write")

// RunTransaction performs an optimistic read-modify-write: the room is read
// with its version, fn mutates the copy and the result is written back only
// if nobody committed in between. Version mismatches are retried with a
// fresh read up to attempts times, after which domain.ErrConflict is returned.
func RunTransaction(ctx context.Context, store RoomStore, id string, attempts int, fn TxFunc) (*domain.Room, error) {
	if attempts <= 0 {
		attempts = DefaultTransactionAttempts
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		room, err := store.GetRoom(ctx, id)
		if err != nil {
			return nil, err
		}

		expected := room.Version
		if err := fn(room); err != nil {
			if errors.Is(err, ErrSkipWrite) {
				return room, nil
			}
			return nil, err
		}

		err = store.ReplaceRoom(ctx, room, expected)
		if err == nil {
			room.Version = expected + 1
			return room, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("room %s: %w after %d attempts", id, domain.ErrConflict, attempts)
}

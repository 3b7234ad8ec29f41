package repository

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RunSweeper deletes rooms idle for longer than retention every interval
// until ctx is done.
func RunSweeper(ctx context.Context, sweeper Sweeper, retention, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := sweeper.DeleteInactiveBefore(ctx, now.Add(-retention))
			if err != nil {
				log.Warn().Err(err).Msg("room sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("rooms", n).Msg("expired idle rooms")
			}
		}
	}
}

package sessions

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StartReaper periodically removes expired sessions from the store until ctx is done.
// Expiry is enforced lazily on access, so the reaper only keeps storage tidy.
func (m *Manager) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Session reaper stopped")
				return
			case <-ticker.C:
				m.reap(ctx)
			}
		}
	}()

	log.Info().Dur("interval", interval).Msg("Session reaper started")
}

func (m *Manager) reap(ctx context.Context) {
	reapCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	removed, err := m.RemoveExpired(reapCtx)
	if err != nil {
		log.Warn().Err(err).Msg("Error when removing expired sessions, cleanup will be tried again in the next round")
		return
	}
	if removed > 0 {
		log.Debug().Int("count", removed).Msg("Expired login sessions removed")
	}
}

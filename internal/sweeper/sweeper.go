// internal/sweeper/sweeper.go
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Expirer is the order-service entry point the expiration sweep reuses;
// it is the same code path a manual force-expire request goes through.
type Expirer interface {
	ExpirePending(ctx context.Context) (int, error)
}

// Progressor advances fulfilled orders through shipping states.
type Progressor interface {
	ProgressOrders(ctx context.Context) (int, error)
}

// ExpirationSweeper periodically reclaims stock from orders whose payment
// deadline passed.
type ExpirationSweeper struct {
	orders   Expirer
	interval time.Duration
}

func NewExpirationSweeper(orders Expirer, interval time.Duration) *ExpirationSweeper {
	return &ExpirationSweeper{orders: orders, interval: interval}
}

// Run blocks until ctx is cancelled. A failed cycle is logged and the
// next tick retries; the sweep itself never stops.
func (s *ExpirationSweeper) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("sweeper: expiration sweep started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweeper: expiration sweep stopped")
			return
		case <-ticker.C:
			count, err := s.orders.ExpirePending(ctx)
			if err != nil {
				log.Error().Err(err).Msg("sweeper: expiration cycle failed")
				continue
			}
			if count > 0 {
				log.Info().Int("expired", count).Msg("sweeper: expiration cycle finished")
			}
		}
	}
}

// ProgressionSweeper periodically advances orders through post-payment
// shipping states, one state per order per cycle.
type ProgressionSweeper struct {
	orders   Progressor
	interval time.Duration
}

func NewProgressionSweeper(orders Progressor, interval time.Duration) *ProgressionSweeper {
	return &ProgressionSweeper{orders: orders, interval: interval}
}

func (s *ProgressionSweeper) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("sweeper: progression sweep started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweeper: progression sweep stopped")
			return
		case <-ticker.C:
			count, err := s.orders.ProgressOrders(ctx)
			if err != nil {
				log.Error().Err(err).Msg("sweeper: progression cycle failed")
				continue
			}
			if count > 0 {
				log.Info().Int("progressed", count).Msg("sweeper: progression cycle finished")
			}
		}
	}
}

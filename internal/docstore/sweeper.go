package docstore

import (
	"context"
	"time"

	"pii-redactor/internal/logger"
)

// RunSweeper calls s.Sweep every interval until ctx is cancelled. A failed
// sweep is logged and retried on the next tick; lazy expiry in Get keeps
// reads correct in the meantime. observe, if non-nil, receives the number of
// entries removed by each successful sweep.
func RunSweeper(ctx context.Context, s Store, every time.Duration, log *logger.Logger, observe func(removed int)) {
	if every <= 0 {
		log.Warn("sweeper", "non-positive interval, background sweep disabled")
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	log.Infof("sweeper", "started, interval=%s", every)
	for {
		select {
		case <-ctx.Done():
			log.Info("sweeper", "stopped")
			return
		case <-ticker.C:
			removed, err := s.Sweep()
			if err != nil {
				log.Errorf("sweeper", "sweep failed: %v", err)
				continue
			}
			if observe != nil {
				observe(removed)
			}
			if removed > 0 {
				log.Infof("sweeper", "evicted %d expired documents, %d remain", removed, s.Len())
			} else {
				log.Debug("sweeper", "nothing to evict")
			}
		}
	}
}

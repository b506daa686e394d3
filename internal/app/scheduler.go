package service

import (
	"context"
	"time"

	"github.com/pmuci/pointage/internal/domain/slots"
	"github.com/pmuci/pointage/pkg/logger"
	"github.com/pmuci/pointage/pkg/metrics"
)

// run drives Tick until ctx is done.
func (s *Service) run(ctx context.Context, interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduler pass at the service clock: it tracks the active
// slot, raises due slot reminders and advances every session watchdog.
func (s *Service) Tick(ctx context.Context) {
	now := s.now()
	cur := s.settings.Current()

	idx := slots.ActiveIndex(now, cur.Slots)
	if prev := s.activeSlot.Swap(int64(idx)); prev != int64(idx) {
		metrics.UpdateActiveSlot(idx)
		s.log.Info(ctx, "active slot changed", logger.Int("slot", idx))
	}

	for _, r := range s.reminders.Due(ctx, now, cur.Slots) {
		metrics.RecordReminder(string(r.Kind))
		s.dispatcher.Notify(ctx, r.Notification(now))
	}

	s.sessions.Tick()
	metrics.UpdateActiveSessions(s.sessions.Active())
}

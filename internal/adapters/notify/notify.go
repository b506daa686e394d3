// Package notify routes user-facing notifications: an asynchronous
// dispatcher in front of log, feed and Kafka sinks.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/pkg/logger"
)

// Sink receives one notification. It matches worker.Sink.
type Sink interface {
	Deliver(ctx context.Context, n model.Notification) error
}

// LogSink writes notifications to the structured log, at warn level for
// warnings and error level for destructive ones.
type LogSink struct {
	log logger.Logger
}

// NewLogSink creates a LogSink. A nil logger uses the global one.
func NewLogSink(l logger.Logger) *LogSink {
	if l == nil {
		l = logger.Get().Named("notifications")
	}
	return &LogSink{log: l}
}

func (s *LogSink) Deliver(ctx context.Context, n model.Notification) error {
	fields := []logger.Field{
		logger.String("title", n.Title),
		logger.String("severity", string(n.Severity)),
		logger.String("topic", n.Topic),
	}
	if n.AgencyID != "" {
		fields = append(fields, logger.String("agency_id", n.AgencyID))
	}
	switch n.Severity {
	case model.SeverityDestructive:
		s.log.Error(ctx, n.Message, fields...)
	case model.SeverityWarning:
		s.log.Warn(ctx, n.Message, fields...)
	default:
		s.log.Info(ctx, n.Message, fields...)
	}
	return nil
}

// Feed keeps the most recent notifications for the UI to poll.
type Feed struct {
	mu    sync.RWMutex
	items []model.Notification
	next  int
	full  bool
}

// NewFeed keeps up to size notifications. size < 1 means 100.
func NewFeed(size int) *Feed {
	if size < 1 {
		size = 100
	}
	return &Feed{items: make([]model.Notification, size)}
}

func (f *Feed) Deliver(_ context.Context, n model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[f.next] = n
	f.next = (f.next + 1) % len(f.items)
	if f.next == 0 {
		f.full = true
	}
	return nil
}

// Recent returns up to limit notifications, newest first, optionally
// restricted to one agency. Notifications without an agency are kept.
func (f *Feed) Recent(limit int, agencyID string) []model.Notification {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := f.next
	if f.full {
		n = len(f.items)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]model.Notification, 0, limit)
	for i := 1; i <= n && len(out) < limit; i++ {
		item := f.items[(f.next-i+len(f.items))%len(f.items)]
		if agencyID != "" && item.AgencyID != "" && item.AgencyID != agencyID {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Fanout delivers to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Deliver(ctx context.Context, n model.Notification) error {
	var errs []error
	for _, s := range f {
		if err := s.Deliver(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

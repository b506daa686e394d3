// Package ledger answers "who already clocked in, and for which slot" for a
// set of employees on a given day.
package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/pkg/apperr"
	"github.com/pmuci/pointage/pkg/logger"
	"github.com/pmuci/pointage/pkg/metrics"
)

const defaultTimeout = 3 * time.Second

// Entry is one recorded clock-in.
type Entry struct {
	SlotIndex int       `json:"slot_index"`
	Timestamp time.Time `json:"timestamp"`
}

// Source is the persistence read the ledger is built on.
type Source interface {
	Attendance(ctx context.Context, matricules []string, day time.Time) ([]model.AttendanceRecord, error)
}

// Query is a read-only view over recorded attendance.
type Query struct {
	src     Source
	timeout time.Duration
	log     logger.Logger
}

// Option configures a Query.
type Option func(*Query)

// WithTimeout bounds every gateway call.
func WithTimeout(d time.Duration) Option {
	return func(q *Query) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(q *Query) {
		if l != nil {
			q.log = l
		}
	}
}

// New builds a Query over src.
func New(src Source, opts ...Option) *Query {
	q := &Query{src: src, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(q)
	}
	if q.log == nil {
		q.log = logger.Get().Named("ledger")
	}
	return q
}

// AttendanceFor returns the entries recorded on day for every matricule in
// the input. Every input key is present in the result, with an empty list
// when nothing was recorded. Any gateway failure, including a timeout, is
// reported as model.ErrLedgerUnavailable and no partial result is returned.
func (q *Query) AttendanceFor(ctx context.Context, matricules []string, day time.Time) (map[string][]Entry, error) {
	const op = "ledger.AttendanceFor"

	ctx, span := otel.Tracer("pointage/ledger").Start(ctx, op)
	defer span.End()
	span.SetAttributes(
		attribute.Int("matricules", len(matricules)),
		attribute.String("day", day.Format(model.DateLayout)),
	)

	out := make(map[string][]Entry, len(matricules))
	keys := make([]string, 0, len(matricules))
	for _, m := range matricules {
		if _, dup := out[m]; dup {
			continue
		}
		out[m] = []Entry{}
		keys = append(keys, m)
	}
	if len(keys) == 0 {
		return out, nil
	}

	started := time.Now()
	records, err := Bounded(ctx, q.timeout, func(ctx context.Context) ([]model.AttendanceRecord, error) {
		return q.src.Attendance(ctx, keys, model.Day(day))
	})
	metrics.RecordLedgerLatency("query", float64(time.Since(started).Milliseconds()))
	if err != nil {
		metrics.RecordLedgerUnavailable()
		metrics.RecordErrorByComponent("ledger", errorType(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger unavailable")
		q.log.Warn(ctx, "attendance query failed", logger.Error(err), logger.Int("matricules", len(keys)))
		return nil, apperr.WrapKind(op, model.ErrLedgerUnavailable, err)
	}

	for _, r := range records {
		if _, asked := out[r.Matricule]; !asked {
			continue
		}
		out[r.Matricule] = append(out[r.Matricule], Entry{SlotIndex: r.SlotIndex, Timestamp: r.Timestamp})
	}
	for _, entries := range out {
		sort.Slice(entries, func(i, j int) bool { return entries[i].SlotIndex < entries[j].SlotIndex })
	}
	return out, nil
}

// Bounded runs fn with a deadline and returns as soon as the deadline
// passes, even when fn ignores its context. A late result is discarded.
func Bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// HasSlot reports whether entries contain a record for slot.
func HasSlot(entries []Entry, slot int) bool {
	for _, e := range entries {
		if e.SlotIndex == slot {
			return true
		}
	}
	return false
}

func errorType(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "gateway"
}

// Timeout is the bound applied to each gateway call.
func (q *Query) Timeout() time.Duration { return q.timeout }

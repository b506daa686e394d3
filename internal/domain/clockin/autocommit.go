package clockin

import (
	"context"
	"time"

	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/pkg/apperr"
	"github.com/pmuci/pointage/pkg/logger"
)

// ScheduleAutoCommit arms a countdown that commits the attempt after
// `after` unless it is reset, re-confirmed or committed first. The commit
// runs the same re-check as a manual Commit.
func (m *Machine) ScheduleAutoCommit(after time.Duration) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.state != Confirmable || m.cur.elig == nil || !m.cur.elig.CanCommit {
		return m.viewLocked(), apperr.NewKind("clockin.ScheduleAutoCommit", model.ErrCommitNotAllowed)
	}
	m.stopAutoCommit()

	attemptID, gen := m.cur.id, m.autoGen
	at := m.now().Add(after)
	m.cur.autoAt = &at
	m.cur.auto = time.AfterFunc(after, func() { m.autoCommit(attemptID, gen) })
	return m.viewLocked(), nil
}

// CancelAutoCommit stops a pending countdown.
func (m *Machine) CancelAutoCommit() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopAutoCommit()
	return m.viewLocked()
}

// autoCommit is the timer callback. A timer that already fired when it was
// re-armed or stopped still runs; its generation no longer matches.
func (m *Machine) autoCommit(attemptID string, gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout*2)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur.id != attemptID || m.cur.auto == nil || m.autoGen != gen {
		return
	}
	m.cur.auto = nil
	m.cur.autoAt = nil
	if _, err := m.commitLocked(ctx); err != nil {
		m.log.Info(ctx, "auto-commit refused", logger.String("kiosk", m.id), logger.Error(err))
	}
}

// stopAutoCommit disarms the countdown. Callers hold the lock.
func (m *Machine) stopAutoCommit() {
	m.autoGen++
	if m.cur.auto != nil {
		m.cur.auto.Stop()
		m.cur.auto = nil
	}
	m.cur.autoAt = nil
}

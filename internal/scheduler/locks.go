package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	scheduledomain "github.com/payflowhq/payflow/internal/schedule/domain"
)

// fetchSchedulesForWork claims a page of schedules in the given status.
// SKIP LOCKED keeps concurrent scheduler instances from claiming the same
// rows; afterID pages through the status set within one job pass.
func (s *Scheduler) fetchSchedulesForWork(ctx context.Context, status scheduledomain.ScheduleStatus, afterID snowflake.ID, limit int) ([]scheduledomain.Schedule, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var schedules []scheduledomain.Schedule
	err := s.db.WithContext(claimCtx).Transaction(func(tx *gorm.DB) error {
		return tx.Raw(
			`SELECT * FROM schedules
			 WHERE status = ? AND id > ?
			 ORDER BY id
			 FOR UPDATE SKIP LOCKED
			 LIMIT ?`,
			status, afterID, limit,
		).Scan(&schedules).Error
	})
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

// fetchExpiredPending returns pending schedules whose first contractual
// date has already arrived without the counterpart accepting.
func (s *Scheduler) fetchExpiredPending(ctx context.Context, now time.Time, limit int) ([]scheduledomain.Schedule, error) {
	var schedules []scheduledomain.Schedule
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM schedules
		 WHERE status = ? AND COALESCE(deposit_date, start_date) <= ?
		 ORDER BY id
		 LIMIT ?`,
		scheduledomain.StatusPending, now, limit,
	).Scan(&schedules).Error
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

// currentStatus re-reads just the status column. The due job re-checks it
// immediately before submitting so a cancellation that landed after the
// claim drops the enqueued payment.
func (s *Scheduler) currentStatus(ctx context.Context, id snowflake.ID) (scheduledomain.ScheduleStatus, error) {
	var status scheduledomain.ScheduleStatus
	err := s.db.WithContext(ctx).Raw(
		`SELECT status FROM schedules WHERE id = ?`, id,
	).Scan(&status).Error
	return status, err
}

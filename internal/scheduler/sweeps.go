package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	scheduledomain "github.com/payflowhq/payflow/internal/schedule/domain"
)

// PendingReconcileJob settles attempts that have sat in PENDING past the
// policy timeout. Such rows come from a crash between the ledger write and
// the gateway call, or a submission whose outcome never arrived; they are
// failed rather than resubmitted, and the owning schedule goes overdue so
// the next sweep retries on a fresh chain link.
func (s *Scheduler) PendingReconcileJob(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.policy.Current().PendingTimeout())

	attempts, err := s.ledgerSvc.ReconcilePending(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var jobErr error
	for i := range attempts {
		a := &attempts[i]
		s.log.Warn("stale pending attempt failed by reconciliation",
			zap.String("attempt_id", a.ID.String()),
			zap.Int64("schedule_id", a.ScheduleID.Int64()),
		)
		if err := s.scheduleSvc.ApplyPaymentOutcome(ctx, a.ScheduleID, false, a.IsDeposit, a.OriginalAmount); err != nil {
			jobErr = errors.Join(jobErr, fmt.Errorf("schedule %d: %w", a.ScheduleID.Int64(), err))
		}
	}
	return len(attempts), jobErr
}

// AcceptDeadlineJob auto-rejects receive-schedules whose counterpart never
// accepted before the first contractual date.
func (s *Scheduler) AcceptDeadlineJob(ctx context.Context) (int, error) {
	expired, err := s.fetchExpiredPending(ctx, s.clock.Now(), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var (
		processed int
		jobErr    error
	)
	for i := range expired {
		applied, err := s.scheduleSvc.Transition(ctx, expired[i].ID, scheduledomain.StatusPending, scheduledomain.StatusRejected)
		if err != nil {
			jobErr = errors.Join(jobErr, fmt.Errorf("schedule %d: %w", expired[i].ID.Int64(), err))
			continue
		}
		if applied {
			processed++
		}
	}
	return processed, jobErr
}

// EscrowExpiryJob expires undecided escrow operations past their deadline.
func (s *Scheduler) EscrowExpiryJob(ctx context.Context) (int, error) {
	return s.escrowSvc.ExpireSweep(ctx, s.clock.Now())
}

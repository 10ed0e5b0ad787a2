package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	ledgerdomain "github.com/payflowhq/payflow/internal/ledger/domain"
	scheduledomain "github.com/payflowhq/payflow/internal/schedule/domain"
)

// OverdueSweepJob retries the failed chain tips of every overdue schedule.
func (s *Scheduler) OverdueSweepJob(ctx context.Context) (int, error) {
	var (
		processed int
		jobErr    error
		afterID   snowflake.ID
	)
	for {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		batch, err := s.fetchSchedulesForWork(ctx, scheduledomain.StatusOverdue, afterID, s.cfg.BatchSize)
		if err != nil {
			return processed, errors.Join(jobErr, err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			afterID = batch[i].ID
			err := s.RetryScheduleNow(ctx, batch[i].ID)
			switch {
			case errors.Is(err, scheduledomain.ErrAlreadyProcessing):
				// Someone else holds the schedule; benign.
			case err != nil:
				jobErr = errors.Join(jobErr, fmt.Errorf("schedule %d: %w", batch[i].ID.Int64(), err))
				s.log.Error("overdue retry failed",
					zap.Int64("schedule_id", batch[i].ID.Int64()),
					zap.Error(err),
				)
			default:
				processed++
			}
		}

		if len(batch) < s.cfg.BatchSize {
			break
		}
	}
	return processed, jobErr
}

// RetryScheduleNow resolves an overdue schedule's failed chain tips, oldest
// occurrence first, extending each chain on the primary funding source with
// the tip's original amount. The processing status is the per-schedule
// mutex: losing the compare-and-swap means another pass or a concurrent
// manual trigger owns the schedule, and the call is a benign no-op.
//
// The walk stops at the first retry that does not succeed, so chains are
// resolved strictly in order; the schedule then falls back to overdue for
// the next pass.
func (s *Scheduler) RetryScheduleNow(ctx context.Context, scheduleID snowflake.ID) error {
	sched, err := s.scheduleSvc.GetByID(ctx, scheduleID)
	if err != nil {
		return err
	}
	if sched.Status != scheduledomain.StatusOverdue {
		return scheduledomain.ErrInvalidTransition
	}

	claimed, err := s.scheduleSvc.Transition(ctx, scheduleID, scheduledomain.StatusOverdue, scheduledomain.StatusProcessing)
	if err != nil {
		return err
	}
	if !claimed {
		return scheduledomain.ErrAlreadyProcessing
	}

	allResolved, retryErr := s.retryChainTips(ctx, sched)

	release := scheduledomain.StatusOverdue
	if allResolved && retryErr == nil {
		release = scheduledomain.StatusOpen
	}
	if _, err := s.scheduleSvc.Transition(ctx, scheduleID, scheduledomain.StatusProcessing, release); err != nil {
		return errors.Join(retryErr, err)
	}
	if retryErr != nil {
		return retryErr
	}

	if release == scheduledomain.StatusOpen {
		return s.closeIfDone(ctx, scheduleID)
	}
	return nil
}

func (s *Scheduler) retryChainTips(ctx context.Context, sched *scheduledomain.Schedule) (bool, error) {
	tips, err := s.ledgerSvc.ChainTips(ctx, sched.ID, ledgerdomain.FailureStatuses)
	if err != nil {
		return false, err
	}

	for i := range tips {
		tip := &tips[i]
		parentID := tip.ID
		attempt := ledgerdomain.NewAttempt{
			ScheduleID:      sched.ID,
			FundingSourceID: sched.FundingSourceID,
			ParentPaymentID: &parentID,
			Amount:          tip.OriginalAmount,
			Currency:        tip.Currency,
			IsDeposit:       tip.IsDeposit,
			OccurrenceDate:  tip.OccurrenceDate,
			ExecutionDate:   s.clock.Now(),
		}

		rec, err := s.issuerSvc.Submit(ctx, sched, attempt)
		if err != nil {
			return false, err
		}
		if rec.Status != ledgerdomain.AttemptStatusSuccess {
			s.log.Info("overdue retry stopped at unresolved tip",
				zap.Int64("schedule_id", sched.ID.Int64()),
				zap.String("tip_id", tip.ID.String()),
				zap.String("retry_status", string(rec.Status)),
			)
			return false, nil
		}
		if err := s.scheduleSvc.ApplyPaymentOutcome(ctx, sched.ID, true, tip.IsDeposit, tip.OriginalAmount); err != nil {
			return false, err
		}
	}
	return true, nil
}

// closeIfDone finishes a schedule whose last payment settled during an
// overdue retry, where the processing status blocked the usual close.
func (s *Scheduler) closeIfDone(ctx context.Context, scheduleID snowflake.ID) error {
	sched, err := s.scheduleSvc.GetByID(ctx, scheduleID)
	if err != nil {
		return err
	}
	if sched.NumberOfPaymentsLeft > 0 || sched.Status != scheduledomain.StatusOpen {
		return nil
	}
	_, err = s.scheduleSvc.Transition(ctx, scheduleID, scheduledomain.StatusOpen, scheduledomain.StatusClosed)
	return err
}

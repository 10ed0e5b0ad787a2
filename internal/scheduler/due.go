package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/payflowhq/payflow/internal/config"
	ledgerdomain "github.com/payflowhq/payflow/internal/ledger/domain"
	scheduledomain "github.com/payflowhq/payflow/internal/schedule/domain"
	"github.com/payflowhq/payflow/internal/schedule/projection"
)

// DuePaymentsJob walks open schedules and submits every occurrence whose
// effective date has arrived and which has no chain root yet. An occurrence
// that is already past its date is still submitted, with the past execution
// date intact: the payment service fails it synchronously, which roots a
// FAILED chain and puts the schedule on the overdue path instead of
// silently skipping the occurrence.
func (s *Scheduler) DuePaymentsJob(ctx context.Context) (int, error) {
	now := s.clock.Now()
	policy := s.policy.Current()

	var (
		processed int
		jobErr    error
		afterID   snowflake.ID
	)
	for {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		batch, err := s.fetchSchedulesForWork(ctx, scheduledomain.StatusOpen, afterID, s.cfg.BatchSize)
		if err != nil {
			return processed, errors.Join(jobErr, err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			sched := &batch[i]
			afterID = sched.ID

			n, err := s.submitDueForSchedule(ctx, sched, now, policy)
			processed += n
			if err != nil {
				// One schedule's failure never aborts the batch.
				jobErr = errors.Join(jobErr, fmt.Errorf("schedule %d: %w", sched.ID.Int64(), err))
				s.log.Error("due submission failed",
					zap.Int64("schedule_id", sched.ID.Int64()),
					zap.Error(err),
				)
			}
		}

		if len(batch) < s.cfg.BatchSize {
			break
		}
	}
	return processed, jobErr
}

func (s *Scheduler) submitDueForSchedule(ctx context.Context, sched *scheduledomain.Schedule, now time.Time, policy config.Policy) (int, error) {
	occurrences := projection.DueDates(sched, time.Time{}, now, policy)
	if len(occurrences) == 0 {
		return 0, nil
	}

	processed := 0
	for _, occ := range occurrences {
		root, err := s.ledgerSvc.RootFor(ctx, sched.ID, occ.Raw, occ.IsDeposit)
		if err != nil {
			return processed, err
		}
		if root != nil {
			continue
		}

		// A cancel may have landed after the claim; drop the enqueued
		// payment rather than submitting against a dead schedule.
		status, err := s.currentStatus(ctx, sched.ID)
		if err != nil {
			return processed, err
		}
		if status != scheduledomain.StatusOpen {
			return processed, nil
		}

		amount := sched.PaymentAmount
		if occ.IsDeposit {
			amount = sched.DepositAmountOrZero()
		}
		attempt := ledgerdomain.NewAttempt{
			ScheduleID:      sched.ID,
			FundingSourceID: sched.FundingSourceID,
			Amount:          amount,
			Currency:        sched.Currency,
			IsDeposit:       occ.IsDeposit,
			OccurrenceDate:  occ.Raw,
			ExecutionDate:   occ.Raw,
		}

		submit := s.issuerSvc.Submit
		if policy.FailoverEnabled {
			submit = s.issuerSvc.SubmitLive
		}
		rec, err := submit(ctx, sched, attempt)
		if err != nil {
			return processed, err
		}
		processed++

		switch rec.Status {
		case ledgerdomain.AttemptStatusSuccess:
			if err := s.scheduleSvc.ApplyPaymentOutcome(ctx, sched.ID, true, rec.IsDeposit, rec.OriginalAmount); err != nil {
				return processed, err
			}
		case ledgerdomain.AttemptStatusFailed, ledgerdomain.AttemptStatusCanceled, ledgerdomain.AttemptStatusRefund:
			if err := s.scheduleSvc.ApplyPaymentOutcome(ctx, sched.ID, false, rec.IsDeposit, rec.OriginalAmount); err != nil {
				return processed, err
			}
			// The schedule just went overdue; later occurrences belong
			// to the overdue sweep now.
			return processed, nil
		}
		// Pending or processing: the webhook settles it.
	}
	return processed, nil
}

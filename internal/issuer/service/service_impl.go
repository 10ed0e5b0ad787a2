package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/payflowhq/payflow/internal/clock"
	"github.com/payflowhq/payflow/internal/issuer/domain"
	ledgerdomain "github.com/payflowhq/payflow/internal/ledger/domain"
	obsmetrics "github.com/payflowhq/payflow/internal/observability/metrics"
	scheduledomain "github.com/payflowhq/payflow/internal/schedule/domain"
	"github.com/payflowhq/payflow/pkg/log/ctxlogger"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Ledger  ledgerdomain.Service
	Gateway domain.Gateway
}

type Service struct {
	log     *zap.Logger
	clock   clock.Clock
	ledger  ledgerdomain.Service
	gateway domain.Gateway
}

func NewService(p Params) *Service {
	return &Service{
		log:     p.Log.Named("issuer.service"),
		clock:   p.Clock,
		ledger:  p.Ledger,
		gateway: p.Gateway,
	}
}

func (s *Service) Submit(ctx context.Context, sched *scheduledomain.Schedule, attempt ledgerdomain.NewAttempt) (*ledgerdomain.PaymentAttempt, error) {
	rec, err := s.record(ctx, sched, &attempt)
	if err != nil || rec == nil || rec.Status.Terminal() {
		return rec, err
	}
	return s.send(ctx, sched, rec, sched.PayeeID)
}

func (s *Service) SubmitLive(ctx context.Context, sched *scheduledomain.Schedule, attempt ledgerdomain.NewAttempt) (*ledgerdomain.PaymentAttempt, error) {
	rec, err := s.Submit(ctx, sched, attempt)
	if err != nil {
		return rec, err
	}
	if rec.Status != ledgerdomain.AttemptStatusFailed || !sched.HasBackup() {
		return rec, nil
	}

	// One hop on the backup rail, chained onto the attempt that just
	// failed. The hop is structural: the backup attempt has no backup.
	obsmetrics.Issuer().IncFailover()
	ctxlogger.WithContext(ctx, s.log).Info("failing over to backup funding source",
		zap.Int64("schedule_id", sched.ID.Int64()),
		zap.String("failed_attempt_id", rec.ID.String()),
	)
	parentID := rec.ID
	hop := ledgerdomain.NewAttempt{
		ID:              uuid.New(),
		ScheduleID:      sched.ID,
		FundingSourceID: *sched.BackupFundingSourceID,
		ParentPaymentID: &parentID,
		Amount:          attempt.Amount,
		Currency:        attempt.Currency,
		IsDeposit:       attempt.IsDeposit,
		OccurrenceDate:  attempt.OccurrenceDate,
		ExecutionDate:   s.clock.Now(),
	}

	backupRec, err := s.record(ctx, sched, &hop)
	if err != nil || backupRec == nil || backupRec.Status.Terminal() {
		return backupRec, err
	}
	return s.send(ctx, sched, backupRec, sched.PayeeID)
}

// record writes the pending ledger row. It returns the existing row when
// the attempt was already recorded; a row already past pending needs no
// further work from us.
func (s *Service) record(ctx context.Context, sched *scheduledomain.Schedule, attempt *ledgerdomain.NewAttempt) (*ledgerdomain.PaymentAttempt, error) {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}

	rec, created, err := s.ledger.RecordAttempt(ctx, *attempt)
	if err != nil {
		return nil, err
	}
	if !created {
		if rec.Status.Terminal() || rec.SubmittedAt != nil {
			return rec, nil
		}
		// Recorded but never sent: a previous pass crashed between the
		// insert and the network call. Resume with the stored id.
		ctxlogger.WithContext(ctx, s.log).Info("resuming unsent attempt",
			zap.String("attempt_id", rec.ID.String()),
			zap.Int64("schedule_id", sched.ID.Int64()),
		)
	}
	return rec, nil
}

// send performs the network call and folds the synchronous answer into the
// ledger. Gateway errors never escape this boundary: refusals, timeouts and
// transport failures all become a FAILED row, so the chain never stalls on
// an in-flight unknown. Retries belong to the overdue sweep, not here.
func (s *Service) send(ctx context.Context, sched *scheduledomain.Schedule, rec *ledgerdomain.PaymentAttempt, payeeID uuid.UUID) (*ledgerdomain.PaymentAttempt, error) {
	result, err := s.gateway.CreatePayment(ctx, domain.PaymentRequest{
		ID:              rec.ID,
		FundingSourceID: rec.FundingSourceID,
		PayeeID:         payeeID,
		Amount:          rec.OriginalAmount,
		Currency:        rec.Currency,
		ExecutionDate:   rec.ExecutionDate,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrGatewayRejected) && !errors.Is(err, domain.ErrGatewayUnavailable) {
			return nil, err
		}
		ctxlogger.WithContext(ctx, s.log).Warn("payment submission failed",
			zap.String("attempt_id", rec.ID.String()),
			zap.Int64("schedule_id", sched.ID.Int64()),
			zap.Error(err),
		)
		if _, uerr := s.ledger.UpdateStatus(ctx, rec.ID, ledgerdomain.AttemptStatusFailed); uerr != nil {
			return nil, uerr
		}
		obsmetrics.Issuer().IncSubmission(string(ledgerdomain.AttemptStatusFailed))
		return s.ledger.Get(ctx, rec.ID)
	}

	if err := s.ledger.MarkSubmitted(ctx, rec.ID, s.clock.Now()); err != nil {
		return nil, err
	}

	if status := parseStatus(result.Status); status != "" && status != ledgerdomain.AttemptStatusPending {
		if _, err := s.ledger.UpdateStatus(ctx, rec.ID, status); err != nil {
			return nil, err
		}
	}

	final, err := s.ledger.Get(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	obsmetrics.Issuer().IncSubmission(string(final.Status))
	return final, nil
}

func parseStatus(raw string) ledgerdomain.AttemptStatus {
	status := ledgerdomain.AttemptStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return ""
	}
	return status
}

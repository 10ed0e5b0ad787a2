package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/payflowhq/payflow/internal/account/domain"
	"github.com/payflowhq/payflow/internal/cache"
	"github.com/payflowhq/payflow/internal/clock"
	"github.com/payflowhq/payflow/internal/events"
	issuerdomain "github.com/payflowhq/payflow/internal/issuer/domain"
	ledgerdomain "github.com/payflowhq/payflow/internal/ledger/domain"
	"github.com/payflowhq/payflow/internal/schedule/domain"
	"github.com/payflowhq/payflow/pkg/log/ctxlogger"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	GenID   *snowflake.Node
	Repo    domain.Repository
	Ledger  ledgerdomain.Service
	Gateway issuerdomain.Gateway
	Details cache.GatewayDetailsCache
	Events  events.Service
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	genID   *snowflake.Node
	repo    domain.Repository
	ledger  ledgerdomain.Service
	gateway issuerdomain.Gateway
	details cache.GatewayDetailsCache
	events  events.Service
}

func NewService(p Params) *Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("schedule.service"),
		clock:   p.Clock,
		genID:   p.GenID,
		repo:    p.Repo,
		ledger:  p.Ledger,
		gateway: p.Gateway,
		details: p.Details,
		events:  p.Events,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateScheduleRequest) (*domain.Schedule, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	primary, err := s.fundingSource(ctx, req.FundingSourceID)
	if err != nil {
		return nil, err
	}
	if !primary.Active || primary.Currency != req.Currency {
		return nil, domain.ErrCurrencyMismatch
	}
	primaryType := accountdomain.FundingSourceType(primary.Type)
	if !primaryType.Valid() {
		return nil, domain.ErrFundingSourceUnknown
	}

	var backupType *accountdomain.FundingSourceType
	if req.BackupFundingSourceID != nil {
		if *req.BackupFundingSourceID == req.FundingSourceID {
			return nil, domain.ErrBackupSameAsPrimary
		}
		backup, err := s.fundingSource(ctx, *req.BackupFundingSourceID)
		if err != nil {
			return nil, err
		}
		if !backup.Active || backup.Currency != req.Currency {
			return nil, domain.ErrCurrencyMismatch
		}
		t := accountdomain.FundingSourceType(backup.Type)
		if !t.Valid() {
			return nil, domain.ErrFundingSourceUnknown
		}
		backupType = &t
	}

	payee, err := s.payee(ctx, req.PayeeID)
	if err != nil {
		return nil, err
	}
	if !payee.Active || payee.Currency != req.Currency {
		return nil, domain.ErrCurrencyMismatch
	}

	now := s.clock.Now()
	sched := &domain.Schedule{
		ID:                      s.genID.Generate(),
		OwnerAccountID:          req.OwnerAccountID,
		CounterpartAccountID:    req.CounterpartAccountID,
		Purpose:                 req.Purpose,
		Cadence:                 req.Cadence,
		StartDate:               req.StartDate,
		DepositAmount:           req.DepositAmount,
		DepositDate:             req.DepositDate,
		PaymentAmount:           req.PaymentAmount,
		FeeAmount:               req.FeeAmount,
		Currency:                req.Currency,
		NumberOfPayments:        req.NumberOfPayments,
		NumberOfPaymentsLeft:    req.NumberOfPayments,
		FundingSourceID:         req.FundingSourceID,
		FundingSourceType:       primaryType,
		BackupFundingSourceID:   req.BackupFundingSourceID,
		BackupFundingSourceType: backupType,
		PayeeID:                 req.PayeeID,
		Status:                  initialStatus(req.Purpose),
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	sched.RecomputeTotals()

	if err := s.repo.Insert(ctx, s.db, sched); err != nil {
		return nil, err
	}

	s.events.ScheduleStatusChanged(ctx, sched.ID, "", string(sched.Status), map[string]any{
		"purpose":  string(sched.Purpose),
		"cadence":  string(sched.Cadence),
		"amount":   sched.PaymentAmount,
		"currency": sched.Currency,
	})
	ctxlogger.WithContext(ctx, s.log).Info("schedule created",
		zap.Int64("schedule_id", sched.ID.Int64()),
		zap.String("purpose", string(sched.Purpose)),
		zap.String("cadence", string(sched.Cadence)),
		zap.String("status", string(sched.Status)),
	)
	return sched, nil
}

// A pay-schedule was initiated by the payer, so there is nothing for the
// counterpart to consent to. A receive-schedule is a request for someone
// else's money and stays pending until they accept.
func initialStatus(p domain.SchedulePurpose) domain.ScheduleStatus {
	if p == domain.PurposeReceive {
		return domain.StatusPending
	}
	return domain.StatusOpen
}

func validateCreate(req domain.CreateScheduleRequest) error {
	switch {
	case req.Purpose != domain.PurposePay && req.Purpose != domain.PurposeReceive:
		return domain.ErrInvalidPurpose
	case !req.Cadence.Valid():
		return domain.ErrInvalidCadence
	case req.PaymentAmount <= 0 || req.FeeAmount < 0:
		return domain.ErrInvalidAmount
	case req.NumberOfPayments < 1:
		return domain.ErrInvalidPaymentCount
	case req.StartDate.IsZero():
		return domain.ErrInvalidStartDate
	case req.Currency == "":
		return domain.ErrCurrencyMismatch
	}

	if (req.DepositAmount == nil) != (req.DepositDate == nil) {
		return domain.ErrDepositIncomplete
	}
	if req.DepositAmount != nil {
		if *req.DepositAmount <= 0 {
			return domain.ErrInvalidAmount
		}
		if !req.DepositDate.Before(req.StartDate) {
			return domain.ErrDepositAfterStart
		}
	}
	return nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Schedule, error) {
	return s.load(ctx, id)
}

func (s *Service) load(ctx context.Context, id snowflake.ID) (*domain.Schedule, error) {
	sched, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, domain.ErrScheduleNotFound
	}
	return sched, nil
}

func (s *Service) Accept(ctx context.Context, id, actorAccountID snowflake.ID) error {
	sched, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if sched.CounterpartAccountID != actorAccountID {
		return domain.ErrNotCounterpart
	}
	if sched.Status != domain.StatusPending {
		return domain.ErrNotPending
	}
	if !s.clock.Now().Before(firstDueDate(sched)) {
		// Past the first occurrence the contract can no longer start
		// cleanly; the deadline sweep cancels it instead.
		return domain.ErrNotPending
	}

	applied, err := s.Transition(ctx, id, domain.StatusPending, domain.StatusOpen)
	if err != nil {
		return err
	}
	if !applied {
		return domain.ErrNotPending
	}
	return nil
}

func (s *Service) Reject(ctx context.Context, id, actorAccountID snowflake.ID) error {
	sched, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if sched.CounterpartAccountID != actorAccountID {
		return domain.ErrNotCounterpart
	}
	if sched.Status != domain.StatusPending {
		return domain.ErrNotPending
	}

	applied, err := s.Transition(ctx, id, domain.StatusPending, domain.StatusRejected)
	if err != nil {
		return err
	}
	if !applied {
		return domain.ErrNotPending
	}
	return nil
}

func (s *Service) Cancel(ctx context.Context, id, actorAccountID snowflake.ID) error {
	sched, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if sched.OwnerAccountID != actorAccountID && sched.CounterpartAccountID != actorAccountID {
		return domain.ErrNotParticipant
	}

	from := sched.Status
	if !domain.CanTransition(from, domain.StatusCancelled) {
		if from == domain.StatusProcessing {
			return domain.ErrAlreadyProcessing
		}
		return domain.ErrNotCancellable
	}

	applied, err := s.Transition(ctx, id, from, domain.StatusCancelled)
	if err != nil {
		return err
	}
	if !applied {
		return domain.ErrNotCancellable
	}

	s.cancelQueuedPayments(ctx, id)
	return nil
}

// cancelQueuedPayments tells the payment service to drop anything still in
// flight for the schedule. Failures are logged, not surfaced: the schedule
// is already cancelled and the reconcile sweep settles leftover attempts.
func (s *Service) cancelQueuedPayments(ctx context.Context, id snowflake.ID) {
	attempts, err := s.ledger.ListBySchedule(ctx, id)
	if err != nil {
		ctxlogger.WithContext(ctx, s.log).Warn("listing attempts for cancellation failed",
			zap.Int64("schedule_id", id.Int64()), zap.Error(err))
		return
	}

	var open []uuid.UUID
	for _, a := range attempts {
		if !a.Status.Terminal() {
			open = append(open, a.ID)
		}
	}
	if len(open) == 0 {
		return
	}
	if err := s.gateway.CancelSchedulePayments(ctx, open); err != nil {
		ctxlogger.WithContext(ctx, s.log).Warn("gateway cancellation failed",
			zap.Int64("schedule_id", id.Int64()), zap.Int("attempts", len(open)), zap.Error(err))
	}
}

func (s *Service) Transition(ctx context.Context, id snowflake.ID, from, to domain.ScheduleStatus) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, domain.ErrInvalidTransition
	}

	applied, err := s.repo.UpdateStatus(ctx, s.db, id, from, to, s.clock.Now())
	if err != nil {
		return false, err
	}
	if applied {
		s.events.ScheduleStatusChanged(ctx, id, string(from), string(to), nil)
		ctxlogger.WithContext(ctx, s.log).Info("schedule transitioned",
			zap.Int64("schedule_id", id.Int64()),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
	}
	return applied, nil
}

func (s *Service) ApplyPaymentOutcome(ctx context.Context, id snowflake.ID, success, isDeposit bool, amount int64) error {
	if !success {
		// Only an open schedule falls to overdue here. When the failure
		// happens during an overdue retry the coordinator owns the
		// processing row and decides where it lands.
		_, err := s.Transition(ctx, id, domain.StatusOpen, domain.StatusOverdue)
		return err
	}

	sched, err := s.repo.ApplyPayment(ctx, s.db, id, isDeposit, amount, s.clock.Now())
	if err != nil {
		return err
	}

	if sched.NumberOfPaymentsLeft == 0 && domain.CanTransition(sched.Status, domain.StatusClosed) {
		if _, err := s.Transition(ctx, id, sched.Status, domain.StatusClosed); err != nil {
			return err
		}
	}
	return nil
}

// firstDueDate is the earliest contractual date: the deposit when one
// exists, otherwise the start date.
func firstDueDate(s *domain.Schedule) time.Time {
	if s.DepositDate != nil && s.DepositDate.Before(s.StartDate) {
		return *s.DepositDate
	}
	return s.StartDate
}

func (s *Service) fundingSource(ctx context.Context, id uuid.UUID) (*issuerdomain.FundingSourceDetails, error) {
	if details, ok := s.details.GetFundingSource(id); ok {
		return details, nil
	}
	details, err := s.gateway.FundingSourceDetails(ctx, id)
	if err != nil {
		return nil, err
	}
	if details == nil {
		return nil, domain.ErrFundingSourceUnknown
	}
	s.details.SetFundingSource(details)
	return details, nil
}

func (s *Service) payee(ctx context.Context, id uuid.UUID) (*issuerdomain.PayeeDetails, error) {
	if details, ok := s.details.GetPayee(id); ok {
		return details, nil
	}
	details, err := s.gateway.PayeeDetails(ctx, id)
	if err != nil {
		return nil, err
	}
	if details == nil {
		return nil, domain.ErrFundingSourceUnknown
	}
	s.details.SetPayee(details)
	return details, nil
}

package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/payflowhq/payflow/internal/clock"
	"github.com/payflowhq/payflow/internal/events"
	"github.com/payflowhq/payflow/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     domain.Repository
	EventSvc events.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	eventSvc events.Service
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("ledger.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		eventSvc: p.EventSvc,
	}
}

func (s *Service) RecordAttempt(ctx context.Context, req domain.NewAttempt) (*domain.PaymentAttempt, bool, error) {
	if req.Amount <= 0 {
		return nil, false, domain.ErrInvalidAmount
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}

	now := s.clock.Now()
	attempt := &domain.PaymentAttempt{
		ID:              req.ID,
		ScheduleID:      req.ScheduleID,
		FundingSourceID: req.FundingSourceID,
		ParentPaymentID: req.ParentPaymentID,
		ChainPath:       domain.RootPath(req.ID),
		Status:          domain.AttemptStatusPending,
		OriginalAmount:  req.Amount,
		Currency:        req.Currency,
		IsDeposit:       req.IsDeposit,
		OccurrenceDate:  req.OccurrenceDate,
		ExecutionDate:   req.ExecutionDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if req.ParentPaymentID != nil {
		parent, err := s.repo.FindByID(ctx, s.db, *req.ParentPaymentID)
		if err != nil {
			return nil, false, err
		}
		if parent == nil || parent.ScheduleID != req.ScheduleID {
			return nil, false, domain.ErrInvalidParent
		}
		attempt.ChainPath = parent.ChildPath(req.ID)
		// Retries inherit the chain's occurrence so FIFO ordering survives.
		attempt.OccurrenceDate = parent.OccurrenceDate
		attempt.IsDeposit = parent.IsDeposit
	}

	created, err := s.repo.Insert(ctx, s.db, attempt)
	if err != nil {
		return nil, false, err
	}
	if created {
		return attempt, true, nil
	}

	// Duplicate id, or a concurrent writer already rooted this occurrence.
	// Return the existing row so the caller can resume instead of
	// resubmitting.
	existing, err := s.repo.FindByID(ctx, s.db, req.ID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil && req.ParentPaymentID == nil {
		existing, err = s.repo.FindRoot(ctx, s.db, req.ScheduleID, req.OccurrenceDate, req.IsDeposit)
		if err != nil {
			return nil, false, err
		}
	}
	if existing == nil {
		return nil, false, domain.ErrAttemptNotFound
	}
	return existing, false, nil
}

func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.AttemptStatus) (bool, error) {
	if !status.Valid() || status == domain.AttemptStatusPending {
		return false, domain.ErrInvalidStatus
	}

	applied, err := s.repo.UpdateStatus(ctx, s.db, id, status, s.clock.Now())
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	attempt, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		s.log.Warn("attempt status updated but reload failed", zap.String("attempt_id", id.String()), zap.Error(err))
		return true, nil
	}
	if attempt != nil {
		s.eventSvc.AttemptStatusChanged(ctx, attempt.ScheduleID, attempt.ID, string(status), map[string]any{
			"amount":     attempt.OriginalAmount,
			"currency":   attempt.Currency,
			"is_deposit": attempt.IsDeposit,
		})
	}
	return true, nil
}

func (s *Service) MarkSubmitted(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.repo.MarkSubmitted(ctx, s.db, id, at)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.PaymentAttempt, error) {
	attempt, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, domain.ErrAttemptNotFound
	}
	return attempt, nil
}

func (s *Service) ChainTips(ctx context.Context, scheduleID snowflake.ID, statuses []domain.AttemptStatus) ([]domain.PaymentAttempt, error) {
	return s.repo.ChainTips(ctx, s.db, scheduleID, statuses)
}

func (s *Service) RootFor(ctx context.Context, scheduleID snowflake.ID, occurrence time.Time, isDeposit bool) (*domain.PaymentAttempt, error) {
	return s.repo.FindRoot(ctx, s.db, scheduleID, occurrence, isDeposit)
}

func (s *Service) ReconcilePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentAttempt, error) {
	stale, err := s.repo.StalePending(ctx, s.db, cutoff, limit)
	if err != nil {
		return nil, err
	}

	failed := make([]domain.PaymentAttempt, 0, len(stale))
	for i := range stale {
		attempt := stale[i]
		applied, err := s.repo.UpdateStatus(ctx, s.db, attempt.ID, domain.AttemptStatusFailed, s.clock.Now())
		if err != nil {
			s.log.Warn("failed to reconcile stale attempt",
				zap.String("attempt_id", attempt.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if !applied {
			// Raced with a late outcome; leave it alone.
			continue
		}
		attempt.Status = domain.AttemptStatusFailed
		s.eventSvc.AttemptStatusChanged(ctx, attempt.ScheduleID, attempt.ID, string(domain.AttemptStatusFailed), map[string]any{
			"amount":   attempt.OriginalAmount,
			"currency": attempt.Currency,
			"reason":   "pending_timeout",
		})
		failed = append(failed, attempt)
	}
	return failed, nil
}

func (s *Service) ListBySchedule(ctx context.Context, scheduleID snowflake.ID) ([]domain.PaymentAttempt, error) {
	return s.repo.ListBySchedule(ctx, s.db, scheduleID)
}

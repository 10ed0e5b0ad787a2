package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/payflowhq/payflow/internal/clock"
	"github.com/payflowhq/payflow/internal/config"
	"github.com/payflowhq/payflow/internal/escrow/domain"
	"github.com/payflowhq/payflow/internal/events"
	"github.com/payflowhq/payflow/pkg/log/ctxlogger"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	GenID  *snowflake.Node
	Policy *config.PolicyHolder
	Repo   domain.Repository
	Events events.Service
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	genID  *snowflake.Node
	policy *config.PolicyHolder
	repo   domain.Repository
	events events.Service
}

func NewService(p Params) *Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("escrow.service"),
		clock:  p.Clock,
		genID:  p.GenID,
		policy: p.Policy,
		repo:   p.Repo,
		events: p.Events,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateEscrowRequest) (*domain.Escrow, *domain.Operation, error) {
	if req.Currency == "" || req.OwnerAccountID == req.CounterpartAccountID {
		return nil, nil, domain.ErrInvalidOperation
	}

	now := s.clock.Now()
	escrow := &domain.Escrow{
		ID:                   s.genID.Generate(),
		OwnerAccountID:       req.OwnerAccountID,
		CounterpartAccountID: req.CounterpartAccountID,
		Currency:             req.Currency,
		Status:               domain.EscrowPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	op := s.newOperation(escrow.ID, domain.OpCreate, req.OwnerAccountID, nil, now)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertEscrow(ctx, tx, escrow); err != nil {
			return err
		}
		return s.repo.InsertOperation(ctx, tx, op)
	})
	if err != nil {
		return nil, nil, err
	}

	s.events.EscrowOperation(ctx, events.TypeEscrowOpCreated, escrow.ID, map[string]any{
		"operation_id":   op.ID.Int64(),
		"operation_type": string(op.Type),
		"remind_at":      op.ReminderTimes(),
	})
	ctxlogger.WithContext(ctx, s.log).Info("escrow created",
		zap.Int64("escrow_id", escrow.ID.Int64()),
		zap.String("currency", escrow.Currency),
	)
	return escrow, op, nil
}

func (s *Service) newOperation(escrowID snowflake.ID, opType domain.OperationType, actorID snowflake.ID, args datatypes.JSONMap, now time.Time) *domain.Operation {
	window := time.Duration(s.policy.Current().EscrowApprovalWindowHours) * time.Hour
	return &domain.Operation{
		ID:                 s.genID.Generate(),
		EscrowID:           escrowID,
		Type:               opType,
		CreatedByAccountID: actorID,
		ApprovalDeadline:   now.Add(window),
		Args:               args,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Escrow, error) {
	escrow, err := s.repo.FindEscrow(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if escrow == nil {
		return nil, domain.ErrEscrowNotFound
	}
	return escrow, nil
}

func (s *Service) ListOperations(ctx context.Context, escrowID snowflake.ID) ([]domain.Operation, error) {
	if _, err := s.GetByID(ctx, escrowID); err != nil {
		return nil, err
	}
	return s.repo.ListOperations(ctx, s.db, escrowID)
}

func (s *Service) RequestOperation(ctx context.Context, in domain.RequestOperationInput) (*domain.Operation, error) {
	if !in.Type.Valid() || in.Type == domain.OpCreate {
		return nil, domain.ErrInvalidOperation
	}

	escrow, err := s.GetByID(ctx, in.EscrowID)
	if err != nil {
		return nil, err
	}
	if escrow.OwnerAccountID != in.ActorID && escrow.CounterpartAccountID != in.ActorID {
		return nil, domain.ErrNotParticipant
	}
	if escrow.Status.Terminal() {
		return nil, domain.ErrEscrowTerminal
	}
	if escrow.Status != domain.EscrowOpen {
		return nil, domain.ErrEscrowNotOpen
	}

	switch in.Type {
	case domain.OpLoadFunds, domain.OpReleaseFunds:
		op := &domain.Operation{Args: in.Args}
		amount, ok := op.Amount()
		if !ok || amount <= 0 {
			return nil, domain.ErrMissingAmount
		}
		if in.Type == domain.OpReleaseFunds && amount > escrow.Balance {
			return nil, domain.ErrInsufficientBalance
		}
	}

	outstanding, err := s.repo.FindOutstanding(ctx, s.db, in.EscrowID)
	if err != nil {
		return nil, err
	}
	if outstanding != nil {
		return nil, domain.ErrOperationOutstanding
	}

	op := s.newOperation(in.EscrowID, in.Type, in.ActorID, in.Args, s.clock.Now())
	if err := s.repo.InsertOperation(ctx, s.db, op); err != nil {
		return nil, err
	}

	s.events.EscrowOperation(ctx, events.TypeEscrowOpCreated, in.EscrowID, map[string]any{
		"operation_id":   op.ID.Int64(),
		"operation_type": string(op.Type),
		"remind_at":      op.ReminderTimes(),
	})
	return op, nil
}

func (s *Service) Decide(ctx context.Context, operationID, actorID snowflake.ID, approve bool) (*domain.Operation, error) {
	op, err := s.repo.FindOperation(ctx, s.db, operationID)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, domain.ErrOperationNotFound
	}
	escrow, err := s.GetByID(ctx, op.EscrowID)
	if err != nil {
		return nil, err
	}

	if escrow.OwnerAccountID != actorID && escrow.CounterpartAccountID != actorID {
		return nil, domain.ErrNotParticipant
	}
	if op.CreatedByAccountID == actorID {
		return nil, domain.ErrSelfDecision
	}
	if !op.Outstanding() || s.clock.Now().After(op.ApprovalDeadline) {
		return nil, domain.ErrOperationSettled
	}

	now := s.clock.Now()
	applied, err := s.repo.DecideOperation(ctx, s.db, op.ID, approve, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, domain.ErrOperationSettled
	}
	op.Approved = &approve
	op.DecidedAt = &now

	if approve {
		if err := s.applyEffect(ctx, escrow, op, now); err != nil {
			return nil, err
		}
	} else if op.Type == domain.OpCreate {
		// Declining the create operation kills the whole escrow.
		if _, err := s.repo.UpdateEscrowStatus(ctx, s.db, escrow.ID, domain.EscrowPending, domain.EscrowRejected, now); err != nil {
			return nil, err
		}
	}

	s.events.EscrowOperation(ctx, events.TypeEscrowOpDecided, escrow.ID, map[string]any{
		"operation_id":   op.ID.Int64(),
		"operation_type": string(op.Type),
		"approved":       approve,
	})
	ctxlogger.WithContext(ctx, s.log).Info("escrow operation decided",
		zap.Int64("escrow_id", escrow.ID.Int64()),
		zap.Int64("operation_id", op.ID.Int64()),
		zap.String("type", string(op.Type)),
		zap.Bool("approved", approve),
	)
	return op, nil
}

// applyEffect runs only after an approval landed; effects are never applied
// speculatively for an undecided operation.
func (s *Service) applyEffect(ctx context.Context, escrow *domain.Escrow, op *domain.Operation, now time.Time) error {
	switch op.Type {
	case domain.OpCreate:
		_, err := s.repo.UpdateEscrowStatus(ctx, s.db, escrow.ID, domain.EscrowPending, domain.EscrowOpen, now)
		return err
	case domain.OpLoadFunds:
		amount, ok := op.Amount()
		if !ok {
			return domain.ErrMissingAmount
		}
		_, err := s.repo.AdjustBalance(ctx, s.db, escrow.ID, amount, now)
		return err
	case domain.OpReleaseFunds:
		amount, ok := op.Amount()
		if !ok {
			return domain.ErrMissingAmount
		}
		applied, err := s.repo.AdjustBalance(ctx, s.db, escrow.ID, -amount, now)
		if err != nil {
			return err
		}
		if !applied {
			return domain.ErrInsufficientBalance
		}
		return nil
	case domain.OpClose:
		_, err := s.repo.UpdateEscrowStatus(ctx, s.db, escrow.ID, domain.EscrowOpen, domain.EscrowClosed, now)
		return err
	}
	return domain.ErrInvalidOperation
}

func (s *Service) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	const batchSize = 200

	expired, err := s.repo.ExpireDue(ctx, s.db, now, batchSize)
	if err != nil {
		return 0, err
	}

	for i := range expired {
		op := &expired[i]
		if op.Type == domain.OpCreate {
			// The counterpart never answered: the escrow fails to form.
			if _, err := s.repo.UpdateEscrowStatus(ctx, s.db, op.EscrowID, domain.EscrowPending, domain.EscrowRejected, now); err != nil {
				return len(expired), err
			}
		} else {
			// A live escrow whose operation timed out is abandoned by one
			// side; it ends terminated rather than lingering half-agreed.
			if _, err := s.repo.UpdateEscrowStatus(ctx, s.db, op.EscrowID, domain.EscrowOpen, domain.EscrowTerminated, now); err != nil {
				return len(expired), err
			}
		}
		s.events.EscrowOperation(ctx, events.TypeEscrowOpExpired, op.EscrowID, map[string]any{
			"operation_id":   op.ID.Int64(),
			"operation_type": string(op.Type),
		})
	}

	if len(expired) > 0 {
		ctxlogger.WithContext(ctx, s.log).Info("expired escrow operations",
			zap.Int("count", len(expired)))
	}
	return len(expired), nil
}

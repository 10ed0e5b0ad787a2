package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CreateEscrowRequest struct {
	OwnerAccountID       snowflake.ID
	CounterpartAccountID snowflake.ID
	Currency             string
}

type RequestOperationInput struct {
	EscrowID snowflake.ID
	Type     OperationType
	ActorID  snowflake.ID
	Args     datatypes.JSONMap
}

type Service interface {
	// Create opens a pending escrow and records its create operation in
	// one step; the escrow goes live when the counterpart approves.
	Create(ctx context.Context, req CreateEscrowRequest) (*Escrow, *Operation, error)

	GetByID(ctx context.Context, id snowflake.ID) (*Escrow, error)
	ListOperations(ctx context.Context, escrowID snowflake.ID) ([]Operation, error)

	// RequestOperation opens a new outstanding operation. Rejected while
	// another operation is still outstanding for the escrow.
	RequestOperation(ctx context.Context, in RequestOperationInput) (*Operation, error)

	// Decide approves or rejects an outstanding operation. Only the
	// account that did not create the operation may decide, and approval
	// applies the operation's effect before returning.
	Decide(ctx context.Context, operationID, actorID snowflake.ID, approve bool) (*Operation, error)

	// ExpireSweep marks every undecided operation past its deadline as
	// expired, settling the owning escrow where the expiry has lifecycle
	// meaning. Returns how many operations were expired.
	ExpireSweep(ctx context.Context, now time.Time) (int, error)
}

type Repository interface {
	InsertEscrow(ctx context.Context, db *gorm.DB, escrow *Escrow) error
	FindEscrow(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Escrow, error)

	// UpdateEscrowStatus is a compare-and-swap on escrow status.
	UpdateEscrowStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to EscrowStatus, now time.Time) (bool, error)
	AdjustBalance(ctx context.Context, db *gorm.DB, id snowflake.ID, delta int64, now time.Time) (bool, error)

	InsertOperation(ctx context.Context, db *gorm.DB, op *Operation) error
	FindOperation(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Operation, error)
	ListOperations(ctx context.Context, db *gorm.DB, escrowID snowflake.ID) ([]Operation, error)
	FindOutstanding(ctx context.Context, db *gorm.DB, escrowID snowflake.ID) (*Operation, error)

	// DecideOperation settles an outstanding operation; it is a no-op
	// (applied=false) when the operation was already decided or expired.
	DecideOperation(ctx context.Context, db *gorm.DB, id snowflake.ID, approved bool, now time.Time) (bool, error)

	// ExpireDue flags undecided operations past the deadline and returns
	// the rows it flagged, each exactly once.
	ExpireDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Operation, error)
}

var (
	ErrEscrowNotFound       = errors.New("escrow_not_found")
	ErrOperationNotFound    = errors.New("escrow_operation_not_found")
	ErrInvalidOperation     = errors.New("invalid_escrow_operation")
	ErrEscrowNotOpen        = errors.New("escrow_not_open")
	ErrEscrowTerminal       = errors.New("escrow_terminal")
	ErrOperationOutstanding = errors.New("another_operation_outstanding")
	ErrOperationSettled     = errors.New("operation_already_settled")
	ErrNotParticipant       = errors.New("actor_is_not_participant")
	ErrSelfDecision         = errors.New("creator_cannot_decide_own_operation")
	ErrInsufficientBalance  = errors.New("insufficient_escrow_balance")
	ErrMissingAmount        = errors.New("operation_amount_required")
)

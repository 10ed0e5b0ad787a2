package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// NewAttempt describes a submission about to be recorded. The id is
// generated by the caller so it can be handed to the payment service
// unchanged.
type NewAttempt struct {
	ID              uuid.UUID
	ScheduleID      snowflake.ID
	FundingSourceID uuid.UUID
	ParentPaymentID *uuid.UUID
	Amount          int64
	Currency        string
	IsDeposit       bool
	OccurrenceDate  time.Time
	ExecutionDate   time.Time
}

type Service interface {
	// RecordAttempt durably writes the ledger row before any external call.
	// Recording the same id twice, or a second root for an occurrence that
	// already has one, returns the existing row with created=false and no
	// error.
	RecordAttempt(ctx context.Context, req NewAttempt) (attempt *PaymentAttempt, created bool, err error)

	// UpdateStatus moves an attempt to status. Terminal statuses are never
	// overwritten; such calls report applied=false and no error.
	UpdateStatus(ctx context.Context, id uuid.UUID, status AttemptStatus) (applied bool, err error)

	MarkSubmitted(ctx context.Context, id uuid.UUID, at time.Time) error

	Get(ctx context.Context, id uuid.UUID) (*PaymentAttempt, error)

	ChainTips(ctx context.Context, scheduleID snowflake.ID, statuses []AttemptStatus) ([]PaymentAttempt, error)

	// RootFor reports the existing chain root for an occurrence, nil when
	// none exists yet.
	RootFor(ctx context.Context, scheduleID snowflake.ID, occurrence time.Time, isDeposit bool) (*PaymentAttempt, error)

	// ReconcilePending fails PENDING attempts older than cutoff and returns
	// them so the caller can move the owning schedules to overdue.
	ReconcilePending(ctx context.Context, cutoff time.Time, limit int) ([]PaymentAttempt, error)

	ListBySchedule(ctx context.Context, scheduleID snowflake.ID) ([]PaymentAttempt, error)
}

var (
	ErrAttemptNotFound = errors.New("attempt_not_found")
	ErrInvalidStatus   = errors.New("invalid_attempt_status")
	ErrInvalidAmount   = errors.New("invalid_attempt_amount")
	ErrInvalidParent   = errors.New("invalid_parent_attempt")
)

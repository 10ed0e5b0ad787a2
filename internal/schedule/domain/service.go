package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

type CreateScheduleRequest struct {
	OwnerAccountID       snowflake.ID
	CounterpartAccountID snowflake.ID
	Purpose              SchedulePurpose
	Cadence              Cadence
	StartDate            time.Time
	DepositAmount        *int64
	DepositDate          *time.Time
	PaymentAmount        int64
	FeeAmount            int64
	Currency             string
	NumberOfPayments     int
	FundingSourceID      uuid.UUID
	BackupFundingSourceID *uuid.UUID
	PayeeID              uuid.UUID
}

type Service interface {
	Create(ctx context.Context, req CreateScheduleRequest) (*Schedule, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Schedule, error)

	// Accept moves a pending receive-schedule to open. Only the counterpart
	// may accept, and only before the first scheduled occurrence.
	Accept(ctx context.Context, id, actorAccountID snowflake.ID) error
	Reject(ctx context.Context, id, actorAccountID snowflake.ID) error

	// Cancel is user-initiated and only legal from open or overdue. The
	// payment service is told to drop queued payments best-effort.
	Cancel(ctx context.Context, id, actorAccountID snowflake.ID) error

	// Transition applies a guarded status change and emits the transition
	// event. Illegal transitions return ErrInvalidTransition; a guarded
	// compare-and-swap losing the race returns applied=false.
	Transition(ctx context.Context, id snowflake.ID, from, to ScheduleStatus) (applied bool, err error)

	// ApplyPaymentOutcome folds one attempt outcome into the schedule:
	// success decrements payments-left (deposits do not), accumulates the
	// paid sum, recomputes totals and closes the schedule when nothing is
	// left; failure moves it to overdue.
	ApplyPaymentOutcome(ctx context.Context, id snowflake.ID, success, isDeposit bool, amount int64) error
}

var (
	ErrScheduleNotFound     = errors.New("schedule_not_found")
	ErrInvalidPurpose       = errors.New("invalid_purpose")
	ErrInvalidCadence       = errors.New("invalid_cadence")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidPaymentCount  = errors.New("invalid_payment_count")
	ErrInvalidStartDate     = errors.New("invalid_start_date")
	ErrDepositAfterStart    = errors.New("deposit_date_not_before_start")
	ErrDepositIncomplete    = errors.New("deposit_amount_and_date_required_together")
	ErrCurrencyMismatch     = errors.New("funding_source_currency_mismatch")
	ErrBackupSameAsPrimary  = errors.New("backup_funding_source_same_as_primary")
	ErrInvalidTransition    = errors.New("invalid_schedule_transition")
	ErrNotCounterpart       = errors.New("actor_is_not_counterpart")
	ErrNotParticipant       = errors.New("actor_is_not_participant")
	ErrNotPending           = errors.New("schedule_not_pending")
	ErrNotCancellable       = errors.New("schedule_not_cancellable")
	ErrAlreadyProcessing    = errors.New("schedule_already_processing")
	ErrFundingSourceUnknown = errors.New("funding_source_unknown")
)

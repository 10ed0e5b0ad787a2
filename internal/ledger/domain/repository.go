package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert writes the attempt and reports whether a row was actually
	// created. A duplicate id or a second root for the same occurrence
	// returns (false, nil).
	Insert(ctx context.Context, db *gorm.DB, attempt *PaymentAttempt) (bool, error)

	FindByID(ctx context.Context, db *gorm.DB, id uuid.UUID) (*PaymentAttempt, error)

	// FindRoot returns the chain root for a (schedule, occurrence, deposit)
	// triple, or nil when the occurrence has never been attempted.
	FindRoot(ctx context.Context, db *gorm.DB, scheduleID snowflake.ID, occurrence time.Time, isDeposit bool) (*PaymentAttempt, error)

	// UpdateStatus applies the status guard at the write boundary: the
	// UPDATE only matches rows whose current status is still mutable.
	// Returns whether a row changed.
	UpdateStatus(ctx context.Context, db *gorm.DB, id uuid.UUID, status AttemptStatus, now time.Time) (bool, error)

	MarkSubmitted(ctx context.Context, db *gorm.DB, id uuid.UUID, at time.Time) error

	// ChainTips returns attempts with no child whose status is in statuses,
	// oldest occurrence first.
	ChainTips(ctx context.Context, db *gorm.DB, scheduleID snowflake.ID, statuses []AttemptStatus) ([]PaymentAttempt, error)

	// StalePending returns PENDING attempts created before cutoff.
	StalePending(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]PaymentAttempt, error)

	ListBySchedule(ctx context.Context, db *gorm.DB, scheduleID snowflake.ID) ([]PaymentAttempt, error)
}

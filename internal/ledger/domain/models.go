// Package domain contains the payment attempt ledger: every submission to
// the payment service, linked into retry chains. Rows are never deleted and
// only their status mutates.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// AttemptStatus mirrors the payment service's status vocabulary.
type AttemptStatus string

const (
	AttemptStatusPending    AttemptStatus = "PENDING"
	AttemptStatusProcessing AttemptStatus = "PROCESSING"
	AttemptStatusSuccess    AttemptStatus = "SUCCESS"
	AttemptStatusFailed     AttemptStatus = "FAILED"
	AttemptStatusCanceled   AttemptStatus = "CANCELED"
	AttemptStatusRefund     AttemptStatus = "REFUND"
)

// Terminal reports whether the status can never change again.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptStatusSuccess, AttemptStatusFailed, AttemptStatusCanceled, AttemptStatusRefund:
		return true
	}
	return false
}

func (s AttemptStatus) Valid() bool {
	switch s {
	case AttemptStatusPending, AttemptStatusProcessing:
		return true
	}
	return s.Terminal()
}

// FailureStatuses is the set that makes a chain tip actionable for retry.
var FailureStatuses = []AttemptStatus{
	AttemptStatusFailed,
	AttemptStatusRefund,
	AttemptStatusCanceled,
}

// PaymentAttempt is one concrete submission. The id doubles as the payment
// id at the external service, which is why it is a UUID rather than a
// snowflake.
//
// ChainPath is the materialized ancestor path: the root's path is its own
// id, a child's path is the parent's path plus its own id, dot separated.
// Chain tips are found with a single LIKE anti-join instead of a recursive
// query.
type PaymentAttempt struct {
	ID              uuid.UUID     `gorm:"type:uuid;primaryKey"`
	ScheduleID      snowflake.ID  `gorm:"not null;index"`
	FundingSourceID uuid.UUID     `gorm:"type:uuid;not null"`
	ParentPaymentID *uuid.UUID    `gorm:"type:uuid;index"`
	ChainPath       string        `gorm:"type:text;not null;index"`
	Status          AttemptStatus `gorm:"type:text;not null"`

	// OriginalAmount is frozen at first submission so retries re-submit the
	// same amount even if schedule fields changed later.
	OriginalAmount int64  `gorm:"not null"`
	Currency       string `gorm:"type:text;not null"`
	IsDeposit      bool   `gorm:"not null;default:false"`

	// OccurrenceDate is the raw calendar date the chain serves; every
	// attempt in a chain carries the root's occurrence date. At most one
	// root attempt per (schedule, occurrence, deposit flag) is enforced by
	// a partial unique index in the migration.
	OccurrenceDate time.Time `gorm:"not null;index"`
	ExecutionDate  time.Time `gorm:"not null"`

	SubmittedAt *time.Time
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentAttempt) TableName() string { return "payment_attempts" }

// IsRoot reports whether the attempt started its chain.
func (a *PaymentAttempt) IsRoot() bool { return a.ParentPaymentID == nil }

// ChildPath computes the materialized path for a child of this attempt.
func (a *PaymentAttempt) ChildPath(childID uuid.UUID) string {
	return a.ChainPath + "." + childID.String()
}

// RootPath computes the materialized path for a chain root.
func RootPath(id uuid.UUID) string { return id.String() }

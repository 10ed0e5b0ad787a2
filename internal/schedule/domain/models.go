// Package domain contains the recurring-payment contract and its state
// machine.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/payflowhq/payflow/internal/account/domain"
	"github.com/google/uuid"
)

// SchedulePurpose distinguishes who initiated the contract.
type SchedulePurpose string

const (
	PurposePay     SchedulePurpose = "pay"
	PurposeReceive SchedulePurpose = "receive"
)

type Cadence string

const (
	CadenceOneTime   Cadence = "one_time"
	CadenceWeekly    Cadence = "weekly"
	CadenceMonthly   Cadence = "monthly"
	CadenceQuarterly Cadence = "quarterly"
	CadenceYearly    Cadence = "yearly"
)

func (c Cadence) Valid() bool {
	switch c {
	case CadenceOneTime, CadenceWeekly, CadenceMonthly, CadenceQuarterly, CadenceYearly:
		return true
	}
	return false
}

// ScheduleStatus is the schedule lifecycle. `processing` doubles as the
// per-schedule mutex for overdue retries.
type ScheduleStatus string

const (
	StatusPending    ScheduleStatus = "pending"
	StatusOpen       ScheduleStatus = "open"
	StatusOverdue    ScheduleStatus = "overdue"
	StatusProcessing ScheduleStatus = "processing"
	StatusClosed     ScheduleStatus = "closed"
	StatusCancelled  ScheduleStatus = "cancelled"
	StatusRejected   ScheduleStatus = "rejected"
)

// Terminal reports whether the schedule can never change status again.
func (s ScheduleStatus) Terminal() bool {
	switch s {
	case StatusClosed, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

var allowedTransitions = map[ScheduleStatus][]ScheduleStatus{
	StatusPending:    {StatusOpen, StatusRejected, StatusCancelled},
	StatusOpen:       {StatusOverdue, StatusClosed, StatusCancelled},
	StatusOverdue:    {StatusProcessing, StatusOpen, StatusCancelled, StatusClosed},
	StatusProcessing: {StatusOpen, StatusOverdue},
}

// CanTransition reports whether from -> to is a legal schedule transition.
func CanTransition(from, to ScheduleStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Schedule is a recurring-payment contract: pay N times, every period, from
// funding source X, to payee Y. Rows are never deleted; terminal statuses
// end the lifecycle instead.
type Schedule struct {
	ID                   snowflake.ID    `gorm:"primaryKey"`
	OwnerAccountID       snowflake.ID    `gorm:"not null;index"`
	CounterpartAccountID snowflake.ID    `gorm:"not null;index"`
	Purpose              SchedulePurpose `gorm:"type:text;not null"`
	Cadence              Cadence         `gorm:"type:text;not null"`

	StartDate     time.Time  `gorm:"not null"`
	DepositAmount *int64     `gorm:""`
	DepositDate   *time.Time `gorm:""`

	PaymentAmount int64  `gorm:"not null"`
	FeeAmount     int64  `gorm:"not null;default:0"`
	Currency      string `gorm:"type:text;not null"`

	// NumberOfPayments is immutable after creation; the Left counter is the
	// only thing payments move.
	NumberOfPayments     int `gorm:"not null"`
	NumberOfPaymentsLeft int `gorm:"not null"`

	FundingSourceID         uuid.UUID                        `gorm:"type:uuid;not null"`
	FundingSourceType       accountdomain.FundingSourceType  `gorm:"type:text;not null"`
	BackupFundingSourceID   *uuid.UUID                       `gorm:"type:uuid"`
	BackupFundingSourceType *accountdomain.FundingSourceType `gorm:"type:text"`

	PayeeID uuid.UUID `gorm:"type:uuid;not null"`

	Status ScheduleStatus `gorm:"type:text;not null;index"`

	TotalPaidSum  int64 `gorm:"not null;default:0"`
	TotalSumToPay int64 `gorm:"not null"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Schedule) TableName() string { return "schedules" }

func (s *Schedule) DepositAmountOrZero() int64 {
	if s.DepositAmount == nil {
		return 0
	}
	return *s.DepositAmount
}

// RecomputeTotals restores the money invariant after any payments-left
// change: total to pay = fee + deposit + amount * payments left.
func (s *Schedule) RecomputeTotals() {
	s.TotalSumToPay = s.FeeAmount + s.DepositAmountOrZero() + s.PaymentAmount*int64(s.NumberOfPaymentsLeft)
}

// PaymentsDone is the number of regular occurrences already settled.
func (s *Schedule) PaymentsDone() int {
	return s.NumberOfPayments - s.NumberOfPaymentsLeft
}

// HasBackup reports whether an automatic failover target exists that uses a
// different rail than the primary.
func (s *Schedule) HasBackup() bool {
	return s.BackupFundingSourceID != nil &&
		s.BackupFundingSourceType != nil &&
		*s.BackupFundingSourceType != s.FundingSourceType
}

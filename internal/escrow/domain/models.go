// Package domain contains the escrow agreement and its mutual-approval
// operation state machine.
package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EscrowStatus string

const (
	// EscrowPending means the create operation has not been approved yet.
	EscrowPending    EscrowStatus = "pending"
	EscrowOpen       EscrowStatus = "open"
	EscrowClosed     EscrowStatus = "closed"
	EscrowRejected   EscrowStatus = "rejected"
	EscrowTerminated EscrowStatus = "terminated"
)

func (s EscrowStatus) Terminal() bool {
	switch s {
	case EscrowClosed, EscrowRejected, EscrowTerminated:
		return true
	}
	return false
}

// Escrow is a two-party held-funds agreement. Every state change goes
// through an EscrowOperation approved by the counterpart of whoever asked.
type Escrow struct {
	ID                   snowflake.ID `gorm:"primaryKey"`
	OwnerAccountID       snowflake.ID `gorm:"not null;index"`
	CounterpartAccountID snowflake.ID `gorm:"not null;index"`
	Currency             string       `gorm:"type:text;not null"`
	Balance              int64        `gorm:"not null;default:0"`
	Status               EscrowStatus `gorm:"type:text;not null;index"`
	CreatedAt            time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Escrow) TableName() string { return "escrows" }

type OperationType string

const (
	OpCreate       OperationType = "create"
	OpLoadFunds    OperationType = "load_funds"
	OpReleaseFunds OperationType = "release_funds"
	OpClose        OperationType = "close"
)

func (t OperationType) Valid() bool {
	switch t {
	case OpCreate, OpLoadFunds, OpReleaseFunds, OpClose:
		return true
	}
	return false
}

// Operation is one requested action on an escrow. Approved is tri-state:
// nil while the counterpart has not decided, then true or false forever.
// An operation with Approved nil and IsExpired false is outstanding, and
// an escrow holds at most one outstanding operation at a time.
type Operation struct {
	ID                 snowflake.ID       `gorm:"primaryKey"`
	EscrowID           snowflake.ID       `gorm:"not null;index"`
	Type               OperationType      `gorm:"type:text;not null"`
	CreatedByAccountID snowflake.ID       `gorm:"not null"`
	Approved           *bool              `gorm:""`
	IsExpired          bool               `gorm:"not null;default:false"`
	ApprovalDeadline   time.Time          `gorm:"not null;index"`
	Args               datatypes.JSONMap  `gorm:"type:jsonb"`
	DecidedAt          *time.Time         `gorm:""`
	CreatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Operation) TableName() string { return "escrow_operations" }

// Outstanding reports whether the operation still awaits a decision.
func (o *Operation) Outstanding() bool {
	return o.Approved == nil && !o.IsExpired
}

// Amount reads the monetary argument for load/release operations.
func (o *Operation) Amount() (int64, bool) {
	raw, ok := o.Args["amount"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		// JSONMap scans with UseNumber, so reloaded rows land here.
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// ReminderTimes are the notification instants derived from the deadline:
// half of the approval window gone, and one day before expiry. They are
// computed, never stored, so moving a deadline moves the reminders with it.
func (o *Operation) ReminderTimes() []time.Time {
	window := o.ApprovalDeadline.Sub(o.CreatedAt)
	if window <= 0 {
		return nil
	}

	var out []time.Time
	halfway := o.CreatedAt.Add(window / 2)
	out = append(out, halfway)

	if window > 24*time.Hour {
		lastDay := o.ApprovalDeadline.Add(-24 * time.Hour)
		if lastDay.After(halfway) {
			out = append(out, lastDay)
		}
	}
	return out
}

// Package events is the transition outbox. Every schedule, attempt and
// escrow status change appends a row here; the notification fan-out consumes
// the table out of process. Delivery and ordering are its problem, not ours.
package events

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	TypeScheduleStatusChanged = "schedule.status_changed"
	TypeAttemptStatusChanged  = "payment_attempt.status_changed"
	TypeEscrowOpCreated       = "escrow_operation.created"
	TypeEscrowOpDecided       = "escrow_operation.decided"
	TypeEscrowOpExpired       = "escrow_operation.expired"
)

type Record struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	Type       string            `gorm:"type:text;not null;index"`
	ScheduleID *snowflake.ID     `gorm:"index"`
	AttemptID  *uuid.UUID        `gorm:"type:uuid;index"`
	EscrowID   *snowflake.ID     `gorm:"index"`
	Payload    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "events" }

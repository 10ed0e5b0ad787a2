package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, schedule *Schedule) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Schedule, error)

	// UpdateStatus is a compare-and-swap on status; it reports whether the
	// row actually moved. This is the write-boundary guard behind both the
	// state machine and the processing mutex.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to ScheduleStatus, now time.Time) (bool, error)

	// ApplyPayment decrements payments-left (unless deposit), adds to the
	// paid sum and recomputes the stored total in one UPDATE.
	ApplyPayment(ctx context.Context, db *gorm.DB, id snowflake.ID, isDeposit bool, amount int64, now time.Time) (*Schedule, error)
}

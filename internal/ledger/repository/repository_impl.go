package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/payflowhq/payflow/internal/ledger/domain"
	"github.com/payflowhq/payflow/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, attempt *domain.PaymentAttempt) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`INSERT INTO payment_attempts (
			id, schedule_id, funding_source_id, parent_payment_id, chain_path,
			status, original_amount, currency, is_deposit,
			occurrence_date, execution_date, submitted_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID,
		attempt.ScheduleID,
		attempt.FundingSourceID,
		attempt.ParentPaymentID,
		attempt.ChainPath,
		attempt.Status,
		attempt.OriginalAmount,
		attempt.Currency,
		attempt.IsDeposit,
		attempt.OccurrenceDate,
		attempt.ExecutionDate,
		attempt.SubmittedAt,
		attempt.CreatedAt,
		attempt.UpdatedAt,
	)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id uuid.UUID) (*domain.PaymentAttempt, error) {
	var item domain.PaymentAttempt
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM payment_attempts WHERE id = ? LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == uuid.Nil {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindRoot(ctx context.Context, conn *gorm.DB, scheduleID snowflake.ID, occurrence time.Time, isDeposit bool) (*domain.PaymentAttempt, error) {
	var item domain.PaymentAttempt
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM payment_attempts
		 WHERE schedule_id = ?
		   AND occurrence_date = ?
		   AND is_deposit = ?
		   AND parent_payment_id IS NULL
		 LIMIT 1`,
		scheduleID,
		occurrence,
		isDeposit,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == uuid.Nil {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, id uuid.UUID, status domain.AttemptStatus, now time.Time) (bool, error) {
	// Monotonicity lives in the WHERE clause: a terminal row matches
	// nothing, so concurrent writers cannot regress it.
	res := conn.WithContext(ctx).Exec(
		`UPDATE payment_attempts
		 SET status = ?, updated_at = ?
		 WHERE id = ?
		   AND status NOT IN (?, ?, ?, ?)`,
		status,
		now,
		id,
		domain.AttemptStatusSuccess,
		domain.AttemptStatusFailed,
		domain.AttemptStatusCanceled,
		domain.AttemptStatusRefund,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkSubmitted(ctx context.Context, conn *gorm.DB, id uuid.UUID, at time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE payment_attempts
		 SET submitted_at = COALESCE(submitted_at, ?), updated_at = ?
		 WHERE id = ?`,
		at,
		at,
		id,
	).Error
}

func (r *repo) ChainTips(ctx context.Context, conn *gorm.DB, scheduleID snowflake.ID, statuses []domain.AttemptStatus) ([]domain.PaymentAttempt, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := []any{scheduleID}
	for _, s := range statuses {
		args = append(args, s)
	}

	// A tip has no attempt whose materialized path strictly extends its
	// own; this replaces the source system's recursive ltree lookup.
	query := fmt.Sprintf(
		`SELECT a.* FROM payment_attempts a
		 WHERE a.schedule_id = ?
		   AND a.status IN (%s)
		   AND NOT EXISTS (
			   SELECT 1 FROM payment_attempts c
			   WHERE c.schedule_id = a.schedule_id
			     AND c.chain_path LIKE a.chain_path || '.%%'
		   )
		 ORDER BY a.occurrence_date ASC, a.created_at ASC`,
		placeholders,
	)

	var tips []domain.PaymentAttempt
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&tips).Error; err != nil {
		return nil, err
	}
	return tips, nil
}

func (r *repo) StalePending(ctx context.Context, conn *gorm.DB, cutoff time.Time, limit int) ([]domain.PaymentAttempt, error) {
	var items []domain.PaymentAttempt
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM payment_attempts
		 WHERE status = ? AND created_at <= ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		domain.AttemptStatusPending,
		cutoff,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListBySchedule(ctx context.Context, conn *gorm.DB, scheduleID snowflake.ID) ([]domain.PaymentAttempt, error) {
	var items []domain.PaymentAttempt
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM payment_attempts
		 WHERE schedule_id = ?
		 ORDER BY occurrence_date ASC, created_at ASC`,
		scheduleID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

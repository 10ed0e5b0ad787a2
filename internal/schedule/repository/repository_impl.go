package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/payflowhq/payflow/internal/schedule/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, schedule *domain.Schedule) error {
	return conn.WithContext(ctx).Create(schedule).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Schedule, error) {
	var item domain.Schedule
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM schedules WHERE id = ? LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, id snowflake.ID, from, to domain.ScheduleStatus, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE schedules
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		now,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ApplyPayment(ctx context.Context, conn *gorm.DB, id snowflake.ID, isDeposit bool, amount int64, now time.Time) (*domain.Schedule, error) {
	decrement := 1
	if isDeposit {
		decrement = 0
	}

	err := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Exec(
			`UPDATE schedules
			 SET number_of_payments_left = number_of_payments_left - ?,
			     total_paid_sum = total_paid_sum + ?,
			     updated_at = ?
			 WHERE id = ? AND number_of_payments_left >= ?`,
			decrement,
			amount,
			now,
			id,
			decrement,
		).Error; err != nil {
			return err
		}

		// Totals invariant is restored in the same transaction so no
		// reader ever observes a stale total.
		return tx.WithContext(ctx).Exec(
			`UPDATE schedules
			 SET total_sum_to_pay = fee_amount
			     + COALESCE(deposit_amount, 0)
			     + payment_amount * number_of_payments_left
			 WHERE id = ?`,
			id,
		).Error
	})
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, conn, id)
}

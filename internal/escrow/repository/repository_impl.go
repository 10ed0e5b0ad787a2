package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/payflowhq/payflow/internal/escrow/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEscrow(ctx context.Context, conn *gorm.DB, escrow *domain.Escrow) error {
	return conn.WithContext(ctx).Create(escrow).Error
}

func (r *repo) FindEscrow(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Escrow, error) {
	var item domain.Escrow
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM escrows WHERE id = ? LIMIT 1`, id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateEscrowStatus(ctx context.Context, conn *gorm.DB, id snowflake.ID, from, to domain.EscrowStatus, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE escrows SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, now, id, from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) AdjustBalance(ctx context.Context, conn *gorm.DB, id snowflake.ID, delta int64, now time.Time) (bool, error) {
	// The balance guard lives in the WHERE clause so a concurrent release
	// can never drive the balance negative.
	res := conn.WithContext(ctx).Exec(
		`UPDATE escrows SET balance = balance + ?, updated_at = ?
		 WHERE id = ? AND balance + ? >= 0`,
		delta, now, id, delta,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertOperation(ctx context.Context, conn *gorm.DB, op *domain.Operation) error {
	return conn.WithContext(ctx).Create(op).Error
}

func (r *repo) FindOperation(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Operation, error) {
	var item domain.Operation
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM escrow_operations WHERE id = ? LIMIT 1`, id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListOperations(ctx context.Context, conn *gorm.DB, escrowID snowflake.ID) ([]domain.Operation, error) {
	var items []domain.Operation
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM escrow_operations WHERE escrow_id = ? ORDER BY created_at ASC, id ASC`,
		escrowID,
	).Scan(&items).Error
	return items, err
}

func (r *repo) FindOutstanding(ctx context.Context, conn *gorm.DB, escrowID snowflake.ID) (*domain.Operation, error) {
	var item domain.Operation
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM escrow_operations
		 WHERE escrow_id = ? AND approved IS NULL AND is_expired = ?
		 LIMIT 1`,
		escrowID, false,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) DecideOperation(ctx context.Context, conn *gorm.DB, id snowflake.ID, approved bool, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE escrow_operations
		 SET approved = ?, decided_at = ?, updated_at = ?
		 WHERE id = ? AND approved IS NULL AND is_expired = ?`,
		approved, now, now, id, false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ExpireDue(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]domain.Operation, error) {
	var candidates []domain.Operation
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM escrow_operations
		 WHERE approved IS NULL AND is_expired = ? AND approval_deadline < ?
		 ORDER BY approval_deadline ASC
		 LIMIT ?`,
		false, now, limit,
	).Scan(&candidates).Error
	if err != nil {
		return nil, err
	}

	// Flag each row with its own guard so a concurrent sweep expiring the
	// same candidate wins at most once.
	expired := make([]domain.Operation, 0, len(candidates))
	for i := range candidates {
		res := conn.WithContext(ctx).Exec(
			`UPDATE escrow_operations
			 SET is_expired = ?, updated_at = ?
			 WHERE id = ? AND approved IS NULL AND is_expired = ?`,
			true, now, candidates[i].ID, false,
		)
		if res.Error != nil {
			return expired, res.Error
		}
		if res.RowsAffected > 0 {
			candidates[i].IsExpired = true
			candidates[i].UpdatedAt = now
			expired = append(expired, candidates[i])
		}
	}
	return expired, nil
}

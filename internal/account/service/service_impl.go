package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/payflowhq/payflow/internal/account/domain"
	"github.com/payflowhq/payflow/internal/clock"
	"github.com/payflowhq/payflow/pkg/db"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	genID *snowflake.Node
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("account.service"),
		clock: p.Clock,
		genID: p.GenID,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateAccountRequest) (*domain.Account, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidEmail
	}

	now := s.clock.Now()
	account := domain.Account{
		ID:        s.genID.Generate(),
		Kind:      req.Kind,
		Email:     email,
		FullName:  strings.TrimSpace(req.FullName),
		ParentID:  req.ParentID,
		Profile:   req.Profile,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if account.Profile == nil {
		account.Profile = map[string]any{}
	}
	if err := account.Validate(); err != nil {
		return nil, err
	}

	if account.ParentID != nil {
		parent, err := s.GetByID(ctx, *account.ParentID)
		if err != nil {
			return nil, err
		}
		if parent.Kind == domain.AccountKindSub {
			return nil, domain.ErrUnexpectedParent
		}
	}

	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrEmailTaken
		}
		return nil, err
	}

	s.log.Info("account created",
		zap.Int64("account_id", account.ID.Int64()),
		zap.String("kind", string(account.Kind)),
	)
	return &account, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Account, error) {
	var account domain.Account
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM accounts WHERE id = ? LIMIT 1`, id,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, domain.ErrAccountNotFound
	}
	return &account, nil
}

func (s *Service) RegisterFundingSource(ctx context.Context, source domain.FundingSource) error {
	if !source.Type.Valid() {
		return domain.ErrInvalidKind
	}
	if _, err := s.GetByID(ctx, source.AccountID); err != nil {
		return err
	}

	now := s.clock.Now()
	source.UpdatedAt = now
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "currency", "payment_account_id", "updated_at"}),
	}).Create(&source).Error
}

func (s *Service) ListFundingSources(ctx context.Context, accountID snowflake.ID) ([]domain.FundingSource, error) {
	var sources []domain.FundingSource
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM funding_sources WHERE account_id = ? ORDER BY created_at ASC`,
		accountID,
	).Scan(&sources).Error
	return sources, err
}

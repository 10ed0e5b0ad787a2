package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type CreateAccountRequest struct {
	Kind     AccountKind
	Email    string
	FullName string
	ParentID *snowflake.ID
	Profile  datatypes.JSONMap
}

type Service interface {
	Create(ctx context.Context, req CreateAccountRequest) (*Account, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Account, error)

	// RegisterFundingSource caches a payment-rail record locally. Upsert
	// by id: the payment service owns the data.
	RegisterFundingSource(ctx context.Context, source FundingSource) error
	ListFundingSources(ctx context.Context, accountID snowflake.ID) ([]FundingSource, error)
}

var (
	ErrEmailTaken   = errors.New("email_already_registered")
	ErrInvalidEmail = errors.New("invalid_email")
)

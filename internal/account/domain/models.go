// Package domain contains persistence models for accounts and funding
// sources.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AccountKind discriminates the account union. Kind-specific data lives in
// the Profile payload; there is no inheritance, a switch over Kind is the
// only dispatch.
type AccountKind string

const (
	AccountKindUser  AccountKind = "USER"
	AccountKindAdmin AccountKind = "ADMIN"
	AccountKindSub   AccountKind = "SUB"
)

type Account struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	Kind      AccountKind       `gorm:"type:text;not null;index"`
	Email     string            `gorm:"type:text;not null;uniqueIndex"`
	FullName  string            `gorm:"type:text;not null"`
	ParentID  *snowflake.ID     `gorm:"index"`
	Profile   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

// Validate enforces the per-kind payload rules.
func (a Account) Validate() error {
	switch a.Kind {
	case AccountKindUser, AccountKindAdmin:
		if a.ParentID != nil {
			return ErrUnexpectedParent
		}
	case AccountKindSub:
		if a.ParentID == nil {
			return ErrMissingParent
		}
	default:
		return ErrInvalidKind
	}
	return nil
}

// FundingSourceType determines the submission lead time for a payment rail.
type FundingSourceType string

const (
	FundingSourceWallet      FundingSourceType = "WALLET"
	FundingSourceCreditCard  FundingSourceType = "CREDIT_CARD"
	FundingSourceDirectDebit FundingSourceType = "DIRECT_DEBIT"
)

func (t FundingSourceType) Valid() bool {
	switch t {
	case FundingSourceWallet, FundingSourceCreditCard, FundingSourceDirectDebit:
		return true
	}
	return false
}

// FundingSource is locally cached reference data about a payment rail owned
// by an account. The payment service remains the source of truth; rows here
// exist so schedule validation does not hit it on every read.
type FundingSource struct {
	ID               uuid.UUID         `gorm:"type:uuid;primaryKey"`
	AccountID        snowflake.ID      `gorm:"not null;index"`
	Type             FundingSourceType `gorm:"type:text;not null"`
	Currency         string            `gorm:"type:text;not null"`
	PaymentAccountID uuid.UUID         `gorm:"type:uuid;not null"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (FundingSource) TableName() string { return "funding_sources" }

var (
	ErrInvalidKind      = errors.New("invalid_account_kind")
	ErrMissingParent    = errors.New("sub_account_missing_parent")
	ErrUnexpectedParent = errors.New("unexpected_parent_account")
	ErrAccountNotFound  = errors.New("account_not_found")
)

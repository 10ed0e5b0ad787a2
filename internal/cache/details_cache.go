package cache

import (
	"time"

	"github.com/google/uuid"

	issuerdomain "github.com/payflowhq/payflow/internal/issuer/domain"
)

const (
	defaultFundingSourceTTL = 5 * time.Minute
	defaultPayeeTTL         = 10 * time.Minute
)

// GatewayDetailsCache stores funding-source and payee lookups fetched from
// the payment service. Schedule creation validates against these records;
// caching keeps repeated creations from hammering the gateway.
type GatewayDetailsCache interface {
	GetFundingSource(id uuid.UUID) (*issuerdomain.FundingSourceDetails, bool)
	SetFundingSource(details *issuerdomain.FundingSourceDetails)
	GetPayee(id uuid.UUID) (*issuerdomain.PayeeDetails, bool)
	SetPayee(details *issuerdomain.PayeeDetails)
}

type gatewayDetailsCache struct {
	fundingSources Cache[uuid.UUID, *issuerdomain.FundingSourceDetails]
	payees         Cache[uuid.UUID, *issuerdomain.PayeeDetails]
	fundingTTL     time.Duration
	payeeTTL       time.Duration
}

func NewGatewayDetailsCache() GatewayDetailsCache {
	return &gatewayDetailsCache{
		fundingSources: NewTTLCache[uuid.UUID, *issuerdomain.FundingSourceDetails](),
		payees:         NewTTLCache[uuid.UUID, *issuerdomain.PayeeDetails](),
		fundingTTL:     defaultFundingSourceTTL,
		payeeTTL:       defaultPayeeTTL,
	}
}

func (c *gatewayDetailsCache) GetFundingSource(id uuid.UUID) (*issuerdomain.FundingSourceDetails, bool) {
	return c.fundingSources.Get(id)
}

func (c *gatewayDetailsCache) SetFundingSource(details *issuerdomain.FundingSourceDetails) {
	if details == nil {
		return
	}
	c.fundingSources.Set(details.ID, details, c.fundingTTL)
}

func (c *gatewayDetailsCache) GetPayee(id uuid.UUID) (*issuerdomain.PayeeDetails, bool) {
	return c.payees.Get(id)
}

func (c *gatewayDetailsCache) SetPayee(details *issuerdomain.PayeeDetails) {
	if details == nil {
		return
	}
	c.payees.Set(details.ID, details, c.payeeTTL)
}

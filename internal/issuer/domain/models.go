package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// PaymentRequest is what we hand the external payment service for one
// attempt. The ID is generated on our side before the call so a crash
// between insert and submit can be reconciled by key instead of by guess.
type PaymentRequest struct {
	ID              uuid.UUID `json:"id"`
	FundingSourceID uuid.UUID `json:"funding_source_id"`
	PayeeID         uuid.UUID `json:"payee_id"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	ExecutionDate   time.Time `json:"execution_date"`
}

// PaymentResult is the payment service's synchronous answer. Status is one
// of the attempt statuses; a past execution date comes back failed.
type PaymentResult struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

// FundingSourceDetails is the subset of the payment service's funding
// source record we validate against.
type FundingSourceDetails struct {
	ID       uuid.UUID `json:"id"`
	Type     string    `json:"type"`
	Currency string    `json:"currency"`
	Active   bool      `json:"active"`
}

// PayeeDetails mirrors the payment service's payee record.
type PayeeDetails struct {
	ID       uuid.UUID `json:"id"`
	Currency string    `json:"currency"`
	Active   bool      `json:"active"`
}

var (
	// ErrGatewayUnavailable covers transport-level failures: timeouts,
	// connection refusals, 5xx. The outcome of the payment is unknown.
	ErrGatewayUnavailable = errors.New("payment_gateway_unavailable")

	// ErrGatewayRejected covers a well-formed 4xx refusal.
	ErrGatewayRejected = errors.New("payment_gateway_rejected")
)

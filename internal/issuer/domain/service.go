package domain

import (
	"context"

	"github.com/google/uuid"

	ledgerdomain "github.com/payflowhq/payflow/internal/ledger/domain"
	scheduledomain "github.com/payflowhq/payflow/internal/schedule/domain"
)

// Gateway is the outbound client to the external payment service. It is an
// interface so the scheduler tests can run against a scripted fake.
type Gateway interface {
	CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)

	// CancelSchedulePayments tells the payment service to drop anything
	// still queued for the schedule's attempts. Best-effort.
	CancelSchedulePayments(ctx context.Context, ids []uuid.UUID) error

	FundingSourceDetails(ctx context.Context, id uuid.UUID) (*FundingSourceDetails, error)
	PayeeDetails(ctx context.Context, id uuid.UUID) (*PayeeDetails, error)
}

// Service issues payments and records their outcome in the attempt ledger.
type Service interface {
	// Submit records a pending attempt and sends it to the payment
	// service. The attempt row exists before the network call: if the
	// response never arrives the row stays pending and the reconcile
	// sweep settles it. parentID nil means this roots a new chain.
	Submit(ctx context.Context, sched *scheduledomain.Schedule, attempt ledgerdomain.NewAttempt) (*ledgerdomain.PaymentAttempt, error)

	// SubmitLive issues a retry that must land today. On synchronous
	// failure with a configured backup funding source it makes exactly
	// one more hop on the backup before reporting the outcome.
	SubmitLive(ctx context.Context, sched *scheduledomain.Schedule, attempt ledgerdomain.NewAttempt) (*ledgerdomain.PaymentAttempt, error)
}

package scheduler

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/payflowhq/payflow/internal/cache"
	"github.com/payflowhq/payflow/internal/clock"
	"github.com/payflowhq/payflow/internal/config"
	escrowdomain "github.com/payflowhq/payflow/internal/escrow/domain"
	issuerdomain "github.com/payflowhq/payflow/internal/issuer/domain"
	issuerservice "github.com/payflowhq/payflow/internal/issuer/service"
	ledgerdomain "github.com/payflowhq/payflow/internal/ledger/domain"
	ledgerrepo "github.com/payflowhq/payflow/internal/ledger/repository"
	ledgerservice "github.com/payflowhq/payflow/internal/ledger/service"
	scheduledomain "github.com/payflowhq/payflow/internal/schedule/domain"
	schedulerepo "github.com/payflowhq/payflow/internal/schedule/repository"
	scheduleservice "github.com/payflowhq/payflow/internal/schedule/service"
)

// scriptedGateway answers CreatePayment from a queue of statuses and
// records every request it saw. An empty queue answers SUCCESS.
type scriptedGateway struct {
	queue    []string
	requests []issuerdomain.PaymentRequest

	funding map[uuid.UUID]*issuerdomain.FundingSourceDetails
	payees  map[uuid.UUID]*issuerdomain.PayeeDetails
}

func (g *scriptedGateway) CreatePayment(ctx context.Context, req issuerdomain.PaymentRequest) (*issuerdomain.PaymentResult, error) {
	g.requests = append(g.requests, req)
	status := "SUCCESS"
	if len(g.queue) > 0 {
		status = g.queue[0]
		g.queue = g.queue[1:]
	}
	return &issuerdomain.PaymentResult{ID: req.ID, Status: status}, nil
}

func (g *scriptedGateway) CancelSchedulePayments(ctx context.Context, ids []uuid.UUID) error {
	return nil
}

func (g *scriptedGateway) FundingSourceDetails(ctx context.Context, id uuid.UUID) (*issuerdomain.FundingSourceDetails, error) {
	return g.funding[id], nil
}

func (g *scriptedGateway) PayeeDetails(ctx context.Context, id uuid.UUID) (*issuerdomain.PayeeDetails, error) {
	return g.payees[id], nil
}

type nopEvents struct{}

func (nopEvents) ScheduleStatusChanged(context.Context, snowflake.ID, string, string, map[string]any) {
}
func (nopEvents) AttemptStatusChanged(context.Context, snowflake.ID, uuid.UUID, string, map[string]any) {
}
func (nopEvents) EscrowOperation(context.Context, string, snowflake.ID, map[string]any) {}

type stubEscrowSvc struct {
	expired int
}

func (s *stubEscrowSvc) Create(context.Context, escrowdomain.CreateEscrowRequest) (*escrowdomain.Escrow, *escrowdomain.Operation, error) {
	return nil, nil, nil
}
func (s *stubEscrowSvc) GetByID(context.Context, snowflake.ID) (*escrowdomain.Escrow, error) {
	return nil, nil
}
func (s *stubEscrowSvc) ListOperations(context.Context, snowflake.ID) ([]escrowdomain.Operation, error) {
	return nil, nil
}
func (s *stubEscrowSvc) RequestOperation(context.Context, escrowdomain.RequestOperationInput) (*escrowdomain.Operation, error) {
	return nil, nil
}
func (s *stubEscrowSvc) Decide(context.Context, snowflake.ID, snowflake.ID, bool) (*escrowdomain.Operation, error) {
	return nil, nil
}
func (s *stubEscrowSvc) ExpireSweep(context.Context, time.Time) (int, error) {
	return s.expired, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	// SQLite support hack: remove FOR UPDATE clauses
	stripForUpdate := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripForUpdate)
	db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripForUpdate)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Exec(`
		CREATE TABLE schedules (
			id INTEGER PRIMARY KEY,
			owner_account_id INTEGER NOT NULL,
			counterpart_account_id INTEGER NOT NULL,
			purpose TEXT NOT NULL,
			cadence TEXT NOT NULL,
			start_date DATETIME NOT NULL,
			deposit_amount INTEGER,
			deposit_date DATETIME,
			payment_amount INTEGER NOT NULL,
			fee_amount INTEGER NOT NULL DEFAULT 0,
			currency TEXT NOT NULL,
			number_of_payments INTEGER NOT NULL,
			number_of_payments_left INTEGER NOT NULL,
			funding_source_id TEXT NOT NULL,
			funding_source_type TEXT NOT NULL,
			backup_funding_source_id TEXT,
			backup_funding_source_type TEXT,
			payee_id TEXT NOT NULL,
			status TEXT NOT NULL,
			total_paid_sum INTEGER NOT NULL DEFAULT 0,
			total_sum_to_pay INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`).Error)
	require.NoError(t, db.Exec(`
		CREATE TABLE payment_attempts (
			id TEXT PRIMARY KEY,
			schedule_id INTEGER NOT NULL,
			funding_source_id TEXT NOT NULL,
			parent_payment_id TEXT,
			chain_path TEXT NOT NULL,
			status TEXT NOT NULL,
			original_amount INTEGER NOT NULL,
			currency TEXT NOT NULL,
			is_deposit BOOLEAN NOT NULL DEFAULT FALSE,
			occurrence_date DATETIME NOT NULL,
			execution_date DATETIME NOT NULL,
			submitted_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`).Error)
	require.NoError(t, db.Exec(`
		CREATE UNIQUE INDEX idx_payment_attempts_root
		ON payment_attempts (schedule_id, occurrence_date, is_deposit)
		WHERE parent_payment_id IS NULL
	`).Error)

	return db
}

type env struct {
	db        *gorm.DB
	clock     *clock.FakeClock
	node      *snowflake.Node
	gateway   *scriptedGateway
	policy    *config.PolicyHolder
	ledger    ledgerdomain.Service
	schedules scheduledomain.Service
	scheduler *Scheduler

	fundingID uuid.UUID
	backupID  uuid.UUID
	payeeID   uuid.UUID
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fundingID := uuid.New()
	backupID := uuid.New()
	payeeID := uuid.New()
	gw := &scriptedGateway{
		funding: map[uuid.UUID]*issuerdomain.FundingSourceDetails{
			fundingID: {ID: fundingID, Type: "WALLET", Currency: "EUR", Active: true},
			backupID:  {ID: backupID, Type: "CREDIT_CARD", Currency: "EUR", Active: true},
		},
		payees: map[uuid.UUID]*issuerdomain.PayeeDetails{
			payeeID: {ID: payeeID, Currency: "EUR", Active: true},
		},
	}

	policy := config.NewStaticPolicyHolder(config.DefaultPolicy())

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    clk,
		Repo:     ledgerrepo.Provide(),
		EventSvc: nopEvents{},
	})
	issuerSvc := issuerservice.NewService(issuerservice.Params{
		Log:     zap.NewNop(),
		Clock:   clk,
		Ledger:  ledgerSvc,
		Gateway: gw,
	})
	scheduleSvc := scheduleservice.NewService(scheduleservice.Params{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   clk,
		GenID:   node,
		Repo:    schedulerepo.Provide(),
		Ledger:  ledgerSvc,
		Gateway: gw,
		Details: cache.NewGatewayDetailsCache(),
		Events:  nopEvents{},
	})

	sched, err := New(Params{
		DB:          db,
		Log:         zap.NewNop(),
		Clock:       clk,
		GenID:       node,
		Policy:      policy,
		ScheduleSvc: scheduleSvc,
		LedgerSvc:   ledgerSvc,
		IssuerSvc:   issuerSvc,
		EscrowSvc:   &stubEscrowSvc{},
		Config:      Config{BatchSize: 10, JobTimeout: 10 * time.Second, RunInterval: time.Minute},
	})
	require.NoError(t, err)

	return &env{
		db:        db,
		clock:     clk,
		node:      node,
		gateway:   gw,
		policy:    policy,
		ledger:    ledgerSvc,
		schedules: scheduleSvc,
		scheduler: sched,
		fundingID: fundingID,
		backupID:  backupID,
		payeeID:   payeeID,
	}
}

func (e *env) createOpenSchedule(t *testing.T, payments int, withBackup bool) *scheduledomain.Schedule {
	t.Helper()
	req := scheduledomain.CreateScheduleRequest{
		OwnerAccountID:       e.node.Generate(),
		CounterpartAccountID: e.node.Generate(),
		Purpose:              scheduledomain.PurposePay,
		Cadence:              scheduledomain.CadenceMonthly,
		StartDate:            time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		PaymentAmount:        5000,
		Currency:             "EUR",
		NumberOfPayments:     payments,
		FundingSourceID:      e.fundingID,
		PayeeID:              e.payeeID,
	}
	if withBackup {
		req.BackupFundingSourceID = &e.backupID
	}
	sched, err := e.schedules.Create(context.Background(), req)
	require.NoError(t, err)
	return sched
}

func (e *env) attempts(t *testing.T, scheduleID snowflake.ID) []ledgerdomain.PaymentAttempt {
	t.Helper()
	items, err := e.ledger.ListBySchedule(context.Background(), scheduleID)
	require.NoError(t, err)
	return items
}

func TestDuePaymentsJob_SubmitsAndSettles(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sched := e.createOpenSchedule(t, 3, false)

	// Before the start date nothing is due. WALLET has no lead days.
	processed, err := e.scheduler.DuePaymentsJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	e.clock.Set(time.Date(2026, 3, 5, 0, 30, 0, 0, time.UTC))
	processed, err = e.scheduler.DuePaymentsJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	got, err := e.schedules.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.NumberOfPaymentsLeft)
	assert.Equal(t, int64(5000), got.TotalPaidSum)
	assert.Equal(t, scheduledomain.StatusOpen, got.Status)

	// Re-running the same pass finds the chain root and submits nothing.
	processed, err = e.scheduler.DuePaymentsJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Len(t, e.gateway.requests, 1)
}

func TestDuePaymentsJob_FailureStopsAtFirstOccurrence(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sched := e.createOpenSchedule(t, 3, false)

	// Two occurrences are overdue by now, but the first failure must
	// short-circuit the rest of the schedule's submissions.
	e.clock.Set(time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC))
	e.gateway.queue = []string{"FAILED"}

	processed, err := e.scheduler.DuePaymentsJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Len(t, e.gateway.requests, 1)

	got, err := e.schedules.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduledomain.StatusOverdue, got.Status)
	assert.Equal(t, 3, got.NumberOfPaymentsLeft)
}

func TestOverdueSweep_RetriesTipsInOrderAndStopsAtFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sched := e.createOpenSchedule(t, 3, false)

	// The March occurrence fails at submission; the April one is never
	// rooted because the due job stops at the first failed occurrence.
	e.clock.Set(time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC))
	e.gateway.queue = []string{"FAILED"}
	_, err := e.scheduler.DuePaymentsJob(ctx)
	require.NoError(t, err)

	// The sweep retries the March tip and it fails again.
	e.clock.Advance(time.Minute)
	e.gateway.queue = []string{"FAILED"}
	_, err = e.scheduler.OverdueSweepJob(ctx)
	require.NoError(t, err)

	// The retry must have extended the March chain instead of opening a
	// new one.
	attempts := e.attempts(t, sched.ID)
	require.Len(t, attempts, 2)
	assert.Nil(t, attempts[0].ParentPaymentID)
	require.NotNil(t, attempts[1].ParentPaymentID)
	assert.Equal(t, attempts[0].ID, *attempts[1].ParentPaymentID)

	// Next sweep: the retry succeeds, March resolves, the schedule goes
	// back to open and the due job roots April.
	e.clock.Advance(time.Minute)
	e.gateway.queue = nil
	_, err = e.scheduler.OverdueSweepJob(ctx)
	require.NoError(t, err)

	got, err := e.schedules.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduledomain.StatusOpen, got.Status)
	assert.Equal(t, 2, got.NumberOfPaymentsLeft)

	processed, err := e.scheduler.DuePaymentsJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	got, err = e.schedules.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.NumberOfPaymentsLeft)
}

func TestRetryScheduleNow_StopsAtFirstUnresolvedTip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sched := e.createOpenSchedule(t, 3, false)

	// Seed two failed chains directly: March and April.
	marchOcc := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	aprilOcc := time.Date(2026, 4, 5, 0, 0, 0, 0, time.UTC)
	for _, occ := range []time.Time{marchOcc, aprilOcc} {
		rec, _, err := e.ledger.RecordAttempt(ctx, ledgerdomain.NewAttempt{
			ID:              uuid.New(),
			ScheduleID:      sched.ID,
			FundingSourceID: e.fundingID,
			Amount:          5000,
			Currency:        "EUR",
			OccurrenceDate:  occ,
			ExecutionDate:   occ,
		})
		require.NoError(t, err)
		_, err = e.ledger.UpdateStatus(ctx, rec.ID, ledgerdomain.AttemptStatusFailed)
		require.NoError(t, err)
	}
	applied, err := e.schedules.Transition(ctx, sched.ID, scheduledomain.StatusOpen, scheduledomain.StatusOverdue)
	require.NoError(t, err)
	require.True(t, applied)

	// March retry fails again: the sweep must not touch April.
	e.gateway.queue = []string{"FAILED"}
	err = e.scheduler.RetryScheduleNow(ctx, sched.ID)
	require.NoError(t, err)
	require.Len(t, e.gateway.requests, 1)

	got, err := e.schedules.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduledomain.StatusOverdue, got.Status)

	tips, err := e.ledger.ChainTips(ctx, sched.ID, ledgerdomain.FailureStatuses)
	require.NoError(t, err)
	require.Len(t, tips, 2)
	assert.True(t, tips[0].OccurrenceDate.Equal(marchOcc))
	assert.True(t, tips[1].OccurrenceDate.Equal(aprilOcc))

	// Both retries succeed; the schedule recovers and both payments are
	// folded in.
	e.gateway.queue = nil
	err = e.scheduler.RetryScheduleNow(ctx, sched.ID)
	require.NoError(t, err)

	got, err = e.schedules.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduledomain.StatusOpen, got.Status)
	assert.Equal(t, 1, got.NumberOfPaymentsLeft)
	assert.Equal(t, int64(10000), got.TotalPaidSum)
}

func TestRetryScheduleNow_RequiresOverdue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sched := e.createOpenSchedule(t, 3, false)

	err := e.scheduler.RetryScheduleNow(ctx, sched.ID)
	assert.ErrorIs(t, err, scheduledomain.ErrInvalidTransition)
}

func TestSubmitLive_SingleBackupHop(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sched := e.createOpenSchedule(t, 2, true)

	// Primary fails, backup fails too. Exactly two gateway calls: the
	// backup hop never gets a backup of its own.
	e.clock.Set(time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC))
	e.gateway.queue = []string{"FAILED", "FAILED"}

	_, err := e.scheduler.DuePaymentsJob(ctx)
	require.NoError(t, err)
	require.Len(t, e.gateway.requests, 2)
	assert.Equal(t, e.fundingID, e.gateway.requests[0].FundingSourceID)
	assert.Equal(t, e.backupID, e.gateway.requests[1].FundingSourceID)

	attempts := e.attempts(t, sched.ID)
	require.Len(t, attempts, 2)
	var root, hop *ledgerdomain.PaymentAttempt
	for i := range attempts {
		if attempts[i].ParentPaymentID == nil {
			root = &attempts[i]
		} else {
			hop = &attempts[i]
		}
	}
	require.NotNil(t, root)
	require.NotNil(t, hop)
	assert.Equal(t, ledgerdomain.AttemptStatusFailed, root.Status)
	assert.Equal(t, ledgerdomain.AttemptStatusFailed, hop.Status)
	assert.Equal(t, root.ID, *hop.ParentPaymentID)

	got, err := e.schedules.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduledomain.StatusOverdue, got.Status)
}

func TestSubmitLive_BackupSucceeds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sched := e.createOpenSchedule(t, 2, true)

	e.clock.Set(time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC))
	e.gateway.queue = []string{"FAILED", "SUCCESS"}

	_, err := e.scheduler.DuePaymentsJob(ctx)
	require.NoError(t, err)
	require.Len(t, e.gateway.requests, 2)

	got, err := e.schedules.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduledomain.StatusOpen, got.Status)
	assert.Equal(t, 1, got.NumberOfPaymentsLeft)
}

func TestPendingReconcileJob_FailsStaleAndMarksOverdue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sched := e.createOpenSchedule(t, 2, false)

	rec, _, err := e.ledger.RecordAttempt(ctx, ledgerdomain.NewAttempt{
		ID:              uuid.New(),
		ScheduleID:      sched.ID,
		FundingSourceID: e.fundingID,
		Amount:          5000,
		Currency:        "EUR",
		OccurrenceDate:  sched.StartDate,
		ExecutionDate:   sched.StartDate,
	})
	require.NoError(t, err)

	// Policy default pending timeout is 30 minutes.
	e.clock.Advance(45 * time.Minute)
	processed, err := e.scheduler.PendingReconcileJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	got, err := e.ledger.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.AttemptStatusFailed, got.Status)

	schedGot, err := e.schedules.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduledomain.StatusOverdue, schedGot.Status)
}

func TestAcceptDeadlineJob_RejectsExpiredPending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	req := scheduledomain.CreateScheduleRequest{
		OwnerAccountID:       e.node.Generate(),
		CounterpartAccountID: e.node.Generate(),
		Purpose:              scheduledomain.PurposeReceive,
		Cadence:              scheduledomain.CadenceMonthly,
		StartDate:            time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		PaymentAmount:        5000,
		Currency:             "EUR",
		NumberOfPayments:     3,
		FundingSourceID:      e.fundingID,
		PayeeID:              e.payeeID,
	}
	sched, err := e.schedules.Create(ctx, req)
	require.NoError(t, err)
	require.Equal(t, scheduledomain.StatusPending, sched.Status)

	// Still before the start date: nothing expires.
	processed, err := e.scheduler.AcceptDeadlineJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	e.clock.Set(time.Date(2026, 3, 5, 0, 0, 1, 0, time.UTC))
	processed, err = e.scheduler.AcceptDeadlineJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	got, err := e.schedules.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduledomain.StatusRejected, got.Status)
}

func TestRunOnce_JobFilter(t *testing.T) {
	e := newEnv(t)
	e.scheduler.cfg.EnabledJobs = []string{"escrow_expiry"}

	require.NoError(t, e.scheduler.RunOnce(context.Background()))
	assert.Empty(t, e.gateway.requests)
}

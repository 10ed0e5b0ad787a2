package service

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

	"github.com/payflowhq/payflow/internal/clock"
	"github.com/payflowhq/payflow/internal/ledger/domain"
	"github.com/payflowhq/payflow/internal/ledger/repository"
)

type capturedEvent struct {
	Type    string
	Status  string
	Attempt uuid.UUID
}

type mockEvents struct {
	events []capturedEvent
}

func (m *mockEvents) ScheduleStatusChanged(ctx context.Context, scheduleID snowflake.ID, from, to string, payload map[string]any) {
	m.events = append(m.events, capturedEvent{Type: "schedule", Status: to})
}

func (m *mockEvents) AttemptStatusChanged(ctx context.Context, scheduleID snowflake.ID, attemptID uuid.UUID, status string, payload map[string]any) {
	m.events = append(m.events, capturedEvent{Type: "attempt", Status: status, Attempt: attemptID})
}

func (m *mockEvents) EscrowOperation(ctx context.Context, eventType string, escrowID snowflake.ID, payload map[string]any) {
	m.events = append(m.events, capturedEvent{Type: eventType})
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

func newLedgerService(t *testing.T, db *gorm.DB, clk clock.Clock) (*Service, *mockEvents) {
	t.Helper()
	events := &mockEvents{}
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    clk,
		Repo:     repository.Provide(),
		EventSvc: events,
	})
	return svc, events
}

func TestRecordAttempt_DuplicateIDReturnsExisting(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := newLedgerService(t, db, clk)
	ctx := context.Background()
	node, _ := snowflake.NewNode(1)

	req := domain.NewAttempt{
		ID:              uuid.New(),
		ScheduleID:      node.Generate(),
		FundingSourceID: uuid.New(),
		Amount:          5000,
		Currency:        "EUR",
		OccurrenceDate:  time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		ExecutionDate:   time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
	}

	first, created, err := svc.RecordAttempt(ctx, req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.AttemptStatusPending, first.Status)
	assert.Equal(t, req.ID.String(), first.ChainPath)

	second, created, err := svc.RecordAttempt(ctx, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestRecordAttempt_SecondRootForOccurrenceReturnsFirst(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := newLedgerService(t, db, clk)
	ctx := context.Background()
	node, _ := snowflake.NewNode(1)

	scheduleID := node.Generate()
	occurrence := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	first, created, err := svc.RecordAttempt(ctx, domain.NewAttempt{
		ID:              uuid.New(),
		ScheduleID:      scheduleID,
		FundingSourceID: uuid.New(),
		Amount:          5000,
		Currency:        "EUR",
		OccurrenceDate:  occurrence,
		ExecutionDate:   occurrence,
	})
	require.NoError(t, err)
	require.True(t, created)

	// A concurrent pass trying to root the same occurrence must land on
	// the existing chain instead of opening a second one.
	second, created, err := svc.RecordAttempt(ctx, domain.NewAttempt{
		ID:              uuid.New(),
		ScheduleID:      scheduleID,
		FundingSourceID: uuid.New(),
		Amount:          5000,
		Currency:        "EUR",
		OccurrenceDate:  occurrence,
		ExecutionDate:   occurrence,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestRecordAttempt_ChildInheritsChain(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := newLedgerService(t, db, clk)
	ctx := context.Background()
	node, _ := snowflake.NewNode(1)

	scheduleID := node.Generate()
	occurrence := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	root, _, err := svc.RecordAttempt(ctx, domain.NewAttempt{
		ID:              uuid.New(),
		ScheduleID:      scheduleID,
		FundingSourceID: uuid.New(),
		Amount:          5000,
		Currency:        "EUR",
		IsDeposit:       true,
		OccurrenceDate:  occurrence,
		ExecutionDate:   occurrence,
	})
	require.NoError(t, err)

	childID := uuid.New()
	child, created, err := svc.RecordAttempt(ctx, domain.NewAttempt{
		ID:              childID,
		ScheduleID:      scheduleID,
		FundingSourceID: uuid.New(),
		ParentPaymentID: &root.ID,
		Amount:          5000,
		Currency:        "EUR",
		// Deliberately wrong: the chain's values must win.
		OccurrenceDate: occurrence.AddDate(0, 1, 0),
		ExecutionDate:  clk.Now(),
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, root.ChainPath+"."+childID.String(), child.ChainPath)
	assert.True(t, child.OccurrenceDate.Equal(occurrence))
	assert.True(t, child.IsDeposit)

	// Parent from a different schedule is rejected.
	_, _, err = svc.RecordAttempt(ctx, domain.NewAttempt{
		ID:              uuid.New(),
		ScheduleID:      node.Generate(),
		FundingSourceID: uuid.New(),
		ParentPaymentID: &root.ID,
		Amount:          5000,
		Currency:        "EUR",
		OccurrenceDate:  occurrence,
		ExecutionDate:   clk.Now(),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidParent)
}

func TestUpdateStatus_TerminalIsSticky(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, events := newLedgerService(t, db, clk)
	ctx := context.Background()
	node, _ := snowflake.NewNode(1)

	attempt, _, err := svc.RecordAttempt(ctx, domain.NewAttempt{
		ID:              uuid.New(),
		ScheduleID:      node.Generate(),
		FundingSourceID: uuid.New(),
		Amount:          2500,
		Currency:        "EUR",
		OccurrenceDate:  clk.Now(),
		ExecutionDate:   clk.Now(),
	})
	require.NoError(t, err)

	applied, err := svc.UpdateStatus(ctx, attempt.ID, domain.AttemptStatusSuccess)
	require.NoError(t, err)
	assert.True(t, applied)

	// A late FAILED webhook must not regress the row.
	applied, err = svc.UpdateStatus(ctx, attempt.ID, domain.AttemptStatusFailed)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := svc.Get(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusSuccess, got.Status)

	// Only the applied transition produced an event.
	var attemptEvents []capturedEvent
	for _, e := range events.events {
		if e.Type == "attempt" {
			attemptEvents = append(attemptEvents, e)
		}
	}
	require.Len(t, attemptEvents, 1)
	assert.Equal(t, string(domain.AttemptStatusSuccess), attemptEvents[0].Status)

	_, err = svc.UpdateStatus(ctx, attempt.ID, domain.AttemptStatusPending)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestChainTips_OnlyLeavesCount(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := newLedgerService(t, db, clk)
	ctx := context.Background()
	node, _ := snowflake.NewNode(1)

	scheduleID := node.Generate()
	occA := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	occB := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)

	record := func(parent *uuid.UUID, occ time.Time) *domain.PaymentAttempt {
		attempt, _, err := svc.RecordAttempt(ctx, domain.NewAttempt{
			ID:              uuid.New(),
			ScheduleID:      scheduleID,
			FundingSourceID: uuid.New(),
			ParentPaymentID: parent,
			Amount:          5000,
			Currency:        "EUR",
			OccurrenceDate:  occ,
			ExecutionDate:   clk.Now(),
		})
		require.NoError(t, err)
		return attempt
	}
	fail := func(id uuid.UUID) {
		applied, err := svc.UpdateStatus(ctx, id, domain.AttemptStatusFailed)
		require.NoError(t, err)
		require.True(t, applied)
	}

	// Occurrence A: root -> retry -> retry, all failed. Only the last
	// link is actionable.
	a1 := record(nil, occA)
	fail(a1.ID)
	a2 := record(&a1.ID, occA)
	fail(a2.ID)
	a3 := record(&a2.ID, occA)
	fail(a3.ID)

	// Occurrence B: a lone failed root.
	b1 := record(nil, occB)
	fail(b1.ID)

	tips, err := svc.ChainTips(ctx, scheduleID, domain.FailureStatuses)
	require.NoError(t, err)
	require.Len(t, tips, 2)
	assert.Equal(t, a3.ID, tips[0].ID)
	assert.Equal(t, b1.ID, tips[1].ID)

	// Resolving a tip removes the whole chain from the retry set.
	child := record(&a3.ID, occA)
	applied, err := svc.UpdateStatus(ctx, child.ID, domain.AttemptStatusSuccess)
	require.NoError(t, err)
	require.True(t, applied)

	tips, err = svc.ChainTips(ctx, scheduleID, domain.FailureStatuses)
	require.NoError(t, err)
	require.Len(t, tips, 1)
	assert.Equal(t, b1.ID, tips[0].ID)
}

func TestReconcilePending_FailsOnlyStaleRows(t *testing.T) {
	db := newTestDB(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(start)
	svc, _ := newLedgerService(t, db, clk)
	ctx := context.Background()
	node, _ := snowflake.NewNode(1)
	scheduleID := node.Generate()

	stale, _, err := svc.RecordAttempt(ctx, domain.NewAttempt{
		ID:              uuid.New(),
		ScheduleID:      scheduleID,
		FundingSourceID: uuid.New(),
		Amount:          5000,
		Currency:        "EUR",
		OccurrenceDate:  start,
		ExecutionDate:   start,
	})
	require.NoError(t, err)

	clk.Advance(45 * time.Minute)
	fresh, _, err := svc.RecordAttempt(ctx, domain.NewAttempt{
		ID:              uuid.New(),
		ScheduleID:      scheduleID,
		FundingSourceID: uuid.New(),
		Amount:          5000,
		Currency:        "EUR",
		OccurrenceDate:  start.AddDate(0, 1, 0),
		ExecutionDate:   clk.Now(),
	})
	require.NoError(t, err)

	cutoff := clk.Now().Add(-30 * time.Minute)
	failed, err := svc.ReconcilePending(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, stale.ID, failed[0].ID)
	assert.Equal(t, domain.AttemptStatusFailed, failed[0].Status)

	got, err := svc.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusPending, got.Status)
}

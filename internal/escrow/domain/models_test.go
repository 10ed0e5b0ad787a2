package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestOperationAmount(t *testing.T) {
	op := &Operation{Args: datatypes.JSONMap{"amount": int64(500)}}
	got, ok := op.Amount()
	require.True(t, ok)
	assert.Equal(t, int64(500), got)

	op = &Operation{Args: datatypes.JSONMap{"amount": float64(250)}}
	got, ok = op.Amount()
	require.True(t, ok)
	assert.Equal(t, int64(250), got)

	_, ok = (&Operation{Args: datatypes.JSONMap{}}).Amount()
	assert.False(t, ok)
}

func TestOperationAmount_AfterDatabaseReload(t *testing.T) {
	// JSONMap scans columns with UseNumber, so an operation reloaded from
	// the database carries its amount as json.Number, not float64.
	var args datatypes.JSONMap
	require.NoError(t, args.Scan(`{"amount": 500}`))

	op := &Operation{Args: args}
	got, ok := op.Amount()
	require.True(t, ok)
	assert.Equal(t, int64(500), got)
}

func TestOperationReminderTimes(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	op := &Operation{
		CreatedAt:        created,
		ApprovalDeadline: created.Add(72 * time.Hour),
	}

	times := op.ReminderTimes()
	require.Len(t, times, 2)
	assert.Equal(t, created.Add(36*time.Hour), times[0])
	assert.Equal(t, created.Add(48*time.Hour), times[1])
}

func TestOperationReminderTimes_ShortWindow(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	op := &Operation{
		CreatedAt:        created,
		ApprovalDeadline: created.Add(12 * time.Hour),
	}

	// Windows of a day or less only get the halfway reminder.
	times := op.ReminderTimes()
	require.Len(t, times, 1)
	assert.Equal(t, created.Add(6*time.Hour), times[0])

	op.ApprovalDeadline = created
	assert.Empty(t, op.ReminderTimes())
}

// Package projection turns a schedule into its calendar occurrences. It is
// pure: every function is a function of the schedule's fields and the
// policy, so a crashed pass can always be recomputed. The source system kept
// this logic in per-cadence database views; here it is plain code.
package projection

import (
	"time"

	accountdomain "github.com/payflowhq/payflow/internal/account/domain"
	"github.com/payflowhq/payflow/internal/config"
	"github.com/payflowhq/payflow/internal/schedule/domain"
)

// Occurrence is one scheduled calendar due date. Raw is the contractual
// date; Effective is when the payment must be submitted, lead time already
// subtracted.
type Occurrence struct {
	Raw       time.Time
	Effective time.Time
	IsDeposit bool
}

// LeadDays returns how many days before the raw date a submission must be
// made for the given rail. Wallet transfers are same-day; card and direct
// debit rails are not.
func LeadDays(t accountdomain.FundingSourceType, policy config.Policy) int {
	switch t {
	case accountdomain.FundingSourceCreditCard:
		return policy.CardLeadDays
	case accountdomain.FundingSourceDirectDebit:
		return policy.DirectDebitLeadDays
	default:
		return 0
	}
}

// EffectiveDate applies the lead-time adjustment for the schedule's primary
// funding source.
func EffectiveDate(raw time.Time, t accountdomain.FundingSourceType, policy config.Policy) time.Time {
	return raw.AddDate(0, 0, -LeadDays(t, policy))
}

// OccurrenceAt returns the k-th raw occurrence of the main series
// (k = 0 is the start date). Month-based cadences use calendar arithmetic
// with day clamping: Jan 31 + 1 month is Feb 28/29, never Mar 3.
func OccurrenceAt(s *domain.Schedule, k int) time.Time {
	switch s.Cadence {
	case domain.CadenceWeekly:
		return s.StartDate.AddDate(0, 0, 7*k)
	case domain.CadenceMonthly:
		return addMonthsClamped(s.StartDate, k)
	case domain.CadenceQuarterly:
		return addMonthsClamped(s.StartDate, 4*k)
	case domain.CadenceYearly:
		return addMonthsClamped(s.StartDate, 12*k)
	default: // one_time
		return s.StartDate
	}
}

// Remaining returns the raw occurrences not yet settled, in order. The
// series stays anchored at the start date: completed payments consume
// occurrences from the front, so the end date of the contract never moves.
func Remaining(s *domain.Schedule) []time.Time {
	if s.Status == domain.StatusCancelled || s.Status.Terminal() {
		return nil
	}
	if s.NumberOfPaymentsLeft <= 0 {
		return nil
	}

	if s.Cadence == domain.CadenceOneTime {
		return []time.Time{s.StartDate}
	}

	done := s.PaymentsDone()
	dates := make([]time.Time, 0, s.NumberOfPaymentsLeft)
	for k := done; k < s.NumberOfPayments; k++ {
		dates = append(dates, OccurrenceAt(s, k))
	}
	return dates
}

// NextOccurrence returns the first remaining raw occurrence at or after
// `after`, and whether one exists. A weekly schedule whose start is long
// past yields the nearest future occurrence, not the start date.
func NextOccurrence(s *domain.Schedule, after time.Time) (time.Time, bool) {
	for _, d := range Remaining(s) {
		if !d.Before(after) {
			return d, true
		}
	}
	return time.Time{}, false
}

// DueDates returns every occurrence, deposit included, whose effective
// submission date falls in [windowStart, windowEnd]. Cancelled and terminal
// schedules project nothing.
func DueDates(s *domain.Schedule, windowStart, windowEnd time.Time, policy config.Policy) []Occurrence {
	if s.Status == domain.StatusCancelled || s.Status.Terminal() {
		return nil
	}

	var out []Occurrence
	if s.DepositDate != nil && s.DepositAmount != nil {
		effective := EffectiveDate(*s.DepositDate, s.FundingSourceType, policy)
		if inWindow(effective, windowStart, windowEnd) {
			out = append(out, Occurrence{Raw: *s.DepositDate, Effective: effective, IsDeposit: true})
		}
	}

	for _, raw := range Remaining(s) {
		effective := EffectiveDate(raw, s.FundingSourceType, policy)
		if effective.After(windowEnd) {
			break
		}
		if inWindow(effective, windowStart, windowEnd) {
			out = append(out, Occurrence{Raw: raw, Effective: effective})
		}
	}
	return out
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

// addMonthsClamped adds months keeping the day-of-month, clamped to the
// target month's length. time.AddDate normalizes overflow instead (Jan 31
// + 1 month = Mar 3), which is wrong for payment contracts.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	m := int(month) + months

	// Normalize month into [1, 12] adjusting the year.
	year += (m - 1) / 12
	m = (m-1)%12 + 1
	if m <= 0 {
		m += 12
		year--
	}

	if last := daysIn(year, time.Month(m)); day > last {
		day = last
	}
	return time.Date(year, time.Month(m), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

package domain

import "time"

// BillingCycle is the recurrence period between two charges.
type BillingCycle string

const (
	CycleWeekly    BillingCycle = "Weekly"
	CycleMonthly   BillingCycle = "Monthly"
	CycleQuarterly BillingCycle = "Quarterly"
	CycleYearly    BillingCycle = "Yearly"
)

// DefaultBillingCycle is used when no cycle is stored.
const DefaultBillingCycle = CycleMonthly

// Valid reports whether c is one of the supported cycles.
func (c BillingCycle) Valid() bool {
	switch c {
	case CycleWeekly, CycleMonthly, CycleQuarterly, CycleYearly:
		return true
	}
	return false
}

// NextBillingDate returns the charge date that follows anchor for the given cycle.
//
// Calendar arithmetic normalizes overflowing days into the following month:
// Jan 31 + 1 month is Mar 2 in a leap year, and Feb 29 + 1 year is Mar 1.
// An unknown or empty cycle is treated as Monthly.
func NextBillingDate(anchor time.Time, cycle BillingCycle) time.Time {
	switch cycle {
	case CycleWeekly:
		return anchor.AddDate(0, 0, 7)
	case CycleQuarterly:
		return anchor.AddDate(0, 3, 0)
	case CycleYearly:
		return anchor.AddDate(1, 0, 0)
	default:
		return anchor.AddDate(0, 1, 0)
	}
}

// DaysUntil counts whole calendar days (UTC) from now until due.
// It is negative when due is already in the past.
func DaysUntil(now, due time.Time) int {
	from := truncateToDay(now.UTC())
	to := truncateToDay(due.UTC())
	return int(to.Sub(from).Hours() / 24)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

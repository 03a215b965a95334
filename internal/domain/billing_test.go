package domain

import (
	"testing"
	"time"
)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func TestNextBillingDate(t *testing.T) {
	tests := []struct {
		name   string
		anchor time.Time
		cycle  BillingCycle
		want   time.Time
	}{
		{name: "weekly", anchor: date(2024, 1, 1), cycle: CycleWeekly, want: date(2024, 1, 8)},
		{name: "weekly across month end", anchor: date(2024, 1, 29), cycle: CycleWeekly, want: date(2024, 2, 5)},
		{name: "monthly", anchor: date(2024, 5, 1), cycle: CycleMonthly, want: date(2024, 6, 1)},
		{name: "monthly jan 31 rolls into march in leap year", anchor: date(2024, 1, 31), cycle: CycleMonthly, want: date(2024, 3, 2)},
		{name: "monthly jan 31 rolls into march in common year", anchor: date(2023, 1, 31), cycle: CycleMonthly, want: date(2023, 3, 3)},
		{name: "monthly december wraps year", anchor: date(2024, 12, 15), cycle: CycleMonthly, want: date(2025, 1, 15)},
		{name: "quarterly", anchor: date(2024, 1, 15), cycle: CycleQuarterly, want: date(2024, 4, 15)},
		{name: "quarterly nov 30 rolls into march", anchor: date(2023, 11, 30), cycle: CycleQuarterly, want: date(2024, 3, 1)},
		{name: "yearly", anchor: date(2024, 3, 10), cycle: CycleYearly, want: date(2025, 3, 10)},
		{name: "yearly from leap day", anchor: date(2024, 2, 29), cycle: CycleYearly, want: date(2025, 3, 1)},
		{name: "unknown cycle falls back to monthly", anchor: date(2024, 4, 10), cycle: BillingCycle("Fortnightly"), want: date(2024, 5, 10)},
		{name: "empty cycle falls back to monthly", anchor: date(2024, 4, 10), cycle: "", want: date(2024, 5, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextBillingDate(tt.anchor, tt.cycle)
			if !got.Equal(tt.want) {
				t.Fatalf("expected %s, got %s", tt.want.Format(time.DateOnly), got.Format(time.DateOnly))
			}
		})
	}
}

func TestNextBillingDate_IsDeterministic(t *testing.T) {
	anchor := time.Date(2024, 7, 31, 13, 45, 0, 0, time.UTC)
	for _, cycle := range []BillingCycle{CycleWeekly, CycleMonthly, CycleQuarterly, CycleYearly} {
		first := NextBillingDate(anchor, cycle)
		second := NextBillingDate(anchor, cycle)
		if !first.Equal(second) {
			t.Fatalf("%s: expected identical results, got %s and %s", cycle, first, second)
		}
		if first.Hour() != 13 || first.Minute() != 45 {
			t.Fatalf("%s: expected time of day to be preserved, got %s", cycle, first)
		}
	}
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2024, 5, 10, 22, 30, 0, 0, time.UTC)
	tests := []struct {
		due  time.Time
		want int
	}{
		{due: time.Date(2024, 5, 10, 1, 0, 0, 0, time.UTC), want: 0},
		{due: time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC), want: 1},
		{due: date(2024, 5, 13), want: 3},
		{due: date(2024, 5, 9), want: -1},
	}
	for _, tt := range tests {
		if got := DaysUntil(now, tt.due); got != tt.want {
			t.Fatalf("DaysUntil(%s): expected %d, got %d", tt.due, tt.want, got)
		}
	}
}

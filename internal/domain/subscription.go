/**
 * @description
 * This file defines the core domain model for the subscription-service.
 * A Subscription describes one recurring payment a user tracks: which platform
 * is billed, how much, how often, and when the next charge is expected.
 */
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is the ISO code a subscription is billed in.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyINR Currency = "INR"
	CurrencyGBP Currency = "GBP"
	CurrencyJPY Currency = "JPY"
)

// DefaultCurrency is applied when a price arrives without a currency.
const DefaultCurrency = CurrencyINR

// Valid reports whether c is one of the supported currencies.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyINR, CurrencyGBP, CurrencyJPY:
		return true
	}
	return false
}

// Status is the lifecycle state of a subscription. Any status may be written
// from any other status; there are no guarded transitions.
type Status string

const (
	StatusActive    Status = "Active"
	StatusCancelled Status = "Cancelled"
	StatusPaused    Status = "Paused"
	StatusExpired   Status = "Expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCancelled, StatusPaused, StatusExpired:
		return true
	}
	return false
}

const (
	// DefaultCategory is used when a subscription is created without a category.
	DefaultCategory = "Other"
	// DefaultReminderDaysBefore is how many days ahead of a renewal the owner is reminded.
	DefaultReminderDaysBefore = 3
)

// Price is the amount charged per billing cycle.
type Price struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

// Stored amounts carry at most two decimal places and stay below ten billion.
const maxPriceScale = 2

var maxPriceAmount = decimal.New(1, 10)

// ValidateAmount checks that amount is not negative and fits the stored
// price column.
func ValidateAmount(amount decimal.Decimal) error {
	switch {
	case amount.IsNegative():
		return fmt.Errorf("%w: price.amount must be zero or greater", ErrValidation)
	case !amount.Equal(amount.Truncate(maxPriceScale)):
		return fmt.Errorf("%w: price.amount must have at most %d decimal places", ErrValidation, maxPriceScale)
	case amount.GreaterThanOrEqual(maxPriceAmount):
		return fmt.Errorf("%w: price.amount must be less than %s", ErrValidation, maxPriceAmount)
	}
	return nil
}

// Subscription represents a recurring payment owned by a single user.
type Subscription struct {
	ID                 string       `json:"id"`
	OwnerID            string       `json:"ownerId"`
	PlatformName       string       `json:"platformName"`
	Price              Price        `json:"price"`
	BillingCycle       BillingCycle `json:"billingCycle"`
	StartDate          time.Time    `json:"startDate"`
	NextBillingDate    time.Time    `json:"nextBillingDate"`
	Status             Status       `json:"status"`
	Category           string       `json:"category"`
	ReminderDaysBefore int          `json:"reminderDaysBefore"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// OwnedBy reports whether ownerID is the owner on record.
func (s *Subscription) OwnedBy(ownerID string) bool {
	return s.OwnerID != "" && s.OwnerID == ownerID
}

// RecomputeNextBillingDate derives NextBillingDate from StartDate and BillingCycle.
func (s *Subscription) RecomputeNextBillingDate() {
	s.NextBillingDate = NextBillingDate(s.StartDate, s.BillingCycle)
}

// NormalizePlatformName trims name and rewrites it as an upper-case first
// letter followed by lower-case letters ("nETFLIX" -> "Netflix").
func NormalizePlatformName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	runes := []rune(strings.ToLower(name))
	runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
	return string(runes)
}

// NormalizeCategory trims the category and falls back to DefaultCategory.
func NormalizeCategory(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return DefaultCategory
	}
	return category
}

// ReminderCandidate pairs a subscription that is close to renewal with the
// email address of its owner.
type ReminderCandidate struct {
	Subscription Subscription
	OwnerEmail   string
}

// LifecycleEvent is published after a subscription changes.
type LifecycleEvent struct {
	Type           string        `json:"type"`
	SubscriptionID string        `json:"subscription_id"`
	OwnerID        string        `json:"owner_id"`
	Subscription   *Subscription `json:"subscription,omitempty"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

// ReminderEvent is the payload handed to the notification pipeline.
type ReminderEvent struct {
	OwnerEmail   string    `json:"owner_email"`
	PlatformName string    `json:"platform_name"`
	DaysUntilDue int       `json:"days_until_due"`
	Kind         string    `json:"kind"`
	SentAt       time.Time `json:"sent_at"`
}

// ReminderKind names the reminder template matching daysUntilDue.
func ReminderKind(daysUntilDue int) string {
	switch {
	case daysUntilDue < 0:
		return "overdue"
	case daysUntilDue == 0:
		return "due_today"
	case daysUntilDue == 1:
		return "due_tomorrow"
	default:
		return "upcoming"
	}
}

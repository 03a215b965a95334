package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Patchable field names accepted by ParsePatch.
const (
	FieldPlatformName       = "platformName"
	FieldPrice              = "price"
	FieldBillingCycle       = "billingCycle"
	FieldStartDate          = "startDate"
	FieldStatus             = "status"
	FieldCategory           = "category"
	FieldReminderDaysBefore = "reminderDaysBefore"
)

// PricePatch carries the price keys present in an update. Absent keys keep
// their stored value.
type PricePatch struct {
	Amount   *decimal.Decimal
	Currency *Currency
}

// Patch is a partial update of a subscription restricted to the fields an
// owner may change. Identity, ownership and the derived next billing date are
// never part of a patch.
type Patch struct {
	PlatformName       *string
	Price              *PricePatch
	BillingCycle       *BillingCycle
	StartDate          *time.Time
	Status             *Status
	Category           *string
	ReminderDaysBefore *int
}

// ParsePatch decodes a JSON object into a Patch. Any key outside the
// allow-list, a null value or a value of the wrong type is rejected.
func ParsePatch(body []byte) (Patch, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Patch{}, fmt.Errorf("%w: update body must be a JSON object", ErrValidation)
	}
	if raw == nil {
		return Patch{}, fmt.Errorf("%w: update body must be a JSON object", ErrValidation)
	}

	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var p Patch
	for _, key := range keys {
		value := raw[key]
		if isNull(value) {
			return Patch{}, fmt.Errorf("%w: %s cannot be null", ErrValidation, key)
		}

		switch key {
		case FieldPlatformName:
			var name string
			if err := json.Unmarshal(value, &name); err != nil {
				return Patch{}, fieldTypeError(key, "a string")
			}
			p.PlatformName = &name
		case FieldPrice:
			price, err := parsePricePatch(value)
			if err != nil {
				return Patch{}, err
			}
			p.Price = price
		case FieldBillingCycle:
			var cycle BillingCycle
			if err := json.Unmarshal(value, &cycle); err != nil {
				return Patch{}, fieldTypeError(key, "a string")
			}
			p.BillingCycle = &cycle
		case FieldStartDate:
			var rawDate string
			if err := json.Unmarshal(value, &rawDate); err != nil {
				return Patch{}, fieldTypeError(key, "a date string")
			}
			start, err := ParseDate(rawDate)
			if err != nil {
				return Patch{}, err
			}
			p.StartDate = &start
		case FieldStatus:
			var status Status
			if err := json.Unmarshal(value, &status); err != nil {
				return Patch{}, fieldTypeError(key, "a string")
			}
			p.Status = &status
		case FieldCategory:
			var category string
			if err := json.Unmarshal(value, &category); err != nil {
				return Patch{}, fieldTypeError(key, "a string")
			}
			p.Category = &category
		case FieldReminderDaysBefore:
			var days int
			if err := json.Unmarshal(value, &days); err != nil {
				return Patch{}, fieldTypeError(key, "an integer")
			}
			p.ReminderDaysBefore = &days
		default:
			return Patch{}, fmt.Errorf("%w: field %q cannot be updated", ErrValidation, key)
		}
	}

	return p, nil
}

func parsePricePatch(value json.RawMessage) (*PricePatch, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(value, &raw); err != nil {
		return nil, fieldTypeError(FieldPrice, "an object")
	}

	var pp PricePatch
	for key, v := range raw {
		if isNull(v) {
			return nil, fmt.Errorf("%w: price.%s cannot be null", ErrValidation, key)
		}
		switch key {
		case "amount":
			var amount decimal.Decimal
			if err := json.Unmarshal(v, &amount); err != nil {
				return nil, fieldTypeError("price.amount", "a number")
			}
			pp.Amount = &amount
		case "currency":
			var currency Currency
			if err := json.Unmarshal(v, &currency); err != nil {
				return nil, fieldTypeError("price.currency", "a string")
			}
			pp.Currency = &currency
		default:
			return nil, fmt.Errorf("%w: field %q cannot be updated", ErrValidation, "price."+key)
		}
	}
	return &pp, nil
}

// Apply validates the patch against s and, when every value is acceptable,
// writes it. The price is merged key by key. It reports whether the start
// date or billing cycle changed, in which case the caller must recompute the
// next billing date.
func (p Patch) Apply(s *Subscription) (scheduleChanged bool, err error) {
	next := *s

	if p.PlatformName != nil {
		name := NormalizePlatformName(*p.PlatformName)
		if name == "" {
			return false, fmt.Errorf("%w: platformName cannot be empty", ErrValidation)
		}
		next.PlatformName = name
	}

	if p.Price != nil {
		if p.Price.Amount != nil {
			if err := ValidateAmount(*p.Price.Amount); err != nil {
				return false, err
			}
			next.Price.Amount = *p.Price.Amount
		}
		if p.Price.Currency != nil {
			if !p.Price.Currency.Valid() {
				return false, fmt.Errorf("%w: unsupported currency %q", ErrValidation, *p.Price.Currency)
			}
			next.Price.Currency = *p.Price.Currency
		}
	}

	if p.BillingCycle != nil {
		if !p.BillingCycle.Valid() {
			return false, fmt.Errorf("%w: unsupported billingCycle %q", ErrValidation, *p.BillingCycle)
		}
		if *p.BillingCycle != next.BillingCycle {
			scheduleChanged = true
		}
		next.BillingCycle = *p.BillingCycle
	}

	if p.StartDate != nil {
		if !p.StartDate.Equal(next.StartDate) {
			scheduleChanged = true
		}
		next.StartDate = *p.StartDate
	}

	if p.Status != nil {
		if !p.Status.Valid() {
			return false, fmt.Errorf("%w: unsupported status %q", ErrValidation, *p.Status)
		}
		next.Status = *p.Status
	}

	if p.Category != nil {
		next.Category = NormalizeCategory(*p.Category)
	}

	if p.ReminderDaysBefore != nil {
		if *p.ReminderDaysBefore < 0 {
			return false, fmt.Errorf("%w: reminderDaysBefore must be zero or greater", ErrValidation)
		}
		next.ReminderDaysBefore = *p.ReminderDaysBefore
	}

	*s = next
	return scheduleChanged, nil
}

// ParseDate accepts an RFC 3339 timestamp or a plain YYYY-MM-DD date and
// returns it in UTC.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: date is required", ErrValidation)
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid date %q", ErrValidation, value)
}

func isNull(value json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(value), []byte("null"))
}

func fieldTypeError(field, want string) error {
	return fmt.Errorf("%w: %s must be %s", ErrValidation, field, want)
}

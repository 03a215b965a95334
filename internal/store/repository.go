/**
 * @description
 * This file implements the data access layer for the subscription-service.
 * It contains all the SQL queries and logic for interacting with the
 * subscriptions table in PostgreSQL.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/subscribe/subscription-service/internal/domain"
)

// ErrSubscriptionNotFound is returned when no subscription matches the given id.
var ErrSubscriptionNotFound = errors.New("subscription not found")

const subscriptionColumns = `
    id, user_id, platform_name, price_amount::text, price_currency, billing_cycle,
    start_date, next_billing_date, status, category, reminder_days_before,
    created_at, updated_at`

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles database operations for subscriptions.
type Repository struct {
	db DB
}

// NewRepository creates a new repository.
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// FindByID retrieves a single subscription by its id.
func (r *Repository) FindByID(ctx context.Context, id string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// FindByOwner retrieves every subscription owned by ownerID, soonest renewal first.
func (r *Repository) FindByOwner(ctx context.Context, ownerID string) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE user_id = $1
        ORDER BY next_billing_date ASC, id ASC`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// Save inserts a subscription or overwrites the stored copy with the same id.
// The owner column is written on insert only.
func (r *Repository) Save(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	query := `
        INSERT INTO subscriptions (
            id, user_id, platform_name, price_amount, price_currency, billing_cycle,
            start_date, next_billing_date, status, category, reminder_days_before
        )
        VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (id) DO UPDATE SET
            platform_name = EXCLUDED.platform_name,
            price_amount = EXCLUDED.price_amount,
            price_currency = EXCLUDED.price_currency,
            billing_cycle = EXCLUDED.billing_cycle,
            start_date = EXCLUDED.start_date,
            next_billing_date = EXCLUDED.next_billing_date,
            status = EXCLUDED.status,
            category = EXCLUDED.category,
            reminder_days_before = EXCLUDED.reminder_days_before,
            updated_at = NOW()
        RETURNING ` + subscriptionColumns

	saved, err := scanSubscription(r.db.QueryRow(ctx, query,
		sub.ID,
		sub.OwnerID,
		sub.PlatformName,
		sub.Price.Amount.String(),
		string(sub.Price.Currency),
		string(sub.BillingCycle),
		sub.StartDate,
		sub.NextBillingDate,
		string(sub.Status),
		sub.Category,
		sub.ReminderDaysBefore,
	))
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// Delete permanently removes a subscription.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// FindReminderCandidates returns active subscriptions whose next billing date
// falls between the day before today and the end of their reminder window,
// together with the owner's email. Days are counted in UTC whatever the
// session time zone. Owners without a users row are skipped.
func (r *Repository) FindReminderCandidates(ctx context.Context, today time.Time) ([]domain.ReminderCandidate, error) {
	query := `
        SELECT s.id, s.user_id, s.platform_name, s.price_amount::text, s.price_currency, s.billing_cycle,
               s.start_date, s.next_billing_date, s.status, s.category, s.reminder_days_before,
               s.created_at, s.updated_at, u.email
        FROM subscriptions s
        JOIN users u ON u.id = s.user_id
        WHERE s.status = 'Active'
          AND (s.next_billing_date AT TIME ZONE 'UTC')::date
              BETWEEN (($1::timestamptz AT TIME ZONE 'UTC')::date - 1)
                  AND (($1::timestamptz AT TIME ZONE 'UTC')::date + GREATEST(s.reminder_days_before, 1))
        ORDER BY s.next_billing_date ASC
    `
	rows, err := r.db.Query(ctx, query, today.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []domain.ReminderCandidate
	for rows.Next() {
		var (
			c      domain.ReminderCandidate
			amount string
		)
		sub := &c.Subscription
		err := rows.Scan(
			&sub.ID, &sub.OwnerID, &sub.PlatformName, &amount, &sub.Price.Currency, &sub.BillingCycle,
			&sub.StartDate, &sub.NextBillingDate, &sub.Status, &sub.Category, &sub.ReminderDaysBefore,
			&sub.CreatedAt, &sub.UpdatedAt, &c.OwnerEmail,
		)
		if err != nil {
			return nil, err
		}
		if sub.Price.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid stored price for subscription %s: %w", sub.ID, err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		sub    domain.Subscription
		amount string
	)
	err := row.Scan(
		&sub.ID,
		&sub.OwnerID,
		&sub.PlatformName,
		&amount,
		&sub.Price.Currency,
		&sub.BillingCycle,
		&sub.StartDate,
		&sub.NextBillingDate,
		&sub.Status,
		&sub.Category,
		&sub.ReminderDaysBefore,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sub.Price.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid stored price for subscription %s: %w", sub.ID, err)
	}
	sub.StartDate = sub.StartDate.UTC()
	sub.NextBillingDate = sub.NextBillingDate.UTC()
	return &sub, nil
}

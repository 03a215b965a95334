/**
 * @description
 * This file contains the core business logic for the subscription service.
 * The Service layer enforces creation defaults, ownership checks and the
 * permitted mutations of a subscription, and keeps the next billing date in
 * step with the start date and billing cycle.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subscribe/subscription-service/internal/domain"
	"github.com/subscribe/subscription-service/internal/store"
)

// Lifecycle event types published after a successful change.
const (
	EventSubscriptionCreated = "subscription.created"
	EventSubscriptionUpdated = "subscription.updated"
	EventSubscriptionDeleted = "subscription.deleted"
	EventSubscriptionPaid    = "subscription.paid"
)

// Repository defines the interface for database operations that the service needs.
type Repository interface {
	FindByID(ctx context.Context, id string) (*domain.Subscription, error)
	FindByOwner(ctx context.Context, ownerID string) ([]domain.Subscription, error)
	Save(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error)
	Delete(ctx context.Context, id string) error
}

// EventPublisher receives lifecycle events. Implementations may fail; the
// service logs and discards those failures.
type EventPublisher interface {
	PublishLifecycleEvent(ctx context.Context, event domain.LifecycleEvent) error
}

// PriceInput is the price part of a creation request.
type PriceInput struct {
	Amount   *decimal.Decimal `json:"amount" validate:"required"`
	Currency domain.Currency  `json:"currency,omitempty"`
}

// CreateInput carries the fields accepted when a subscription is created.
type CreateInput struct {
	PlatformName       string              `json:"platformName" validate:"required"`
	Price              *PriceInput         `json:"price" validate:"required"`
	BillingCycle       domain.BillingCycle `json:"billingCycle" validate:"required"`
	StartDate          string              `json:"startDate" validate:"required"`
	Status             domain.Status       `json:"status,omitempty"`
	Category           string              `json:"category,omitempty"`
	ReminderDaysBefore *int                `json:"reminderDaysBefore,omitempty" validate:"omitempty,gte=0"`
}

// Service provides the business logic for subscription management.
type Service struct {
	repo     Repository
	events   EventPublisher
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a new subscription service. events may be nil.
func NewService(repo Repository, events EventPublisher, logger *slog.Logger) *Service {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	return &Service{
		repo:     repo,
		events:   events,
		logger:   logger,
		validate: validate,
		now:      time.Now,
	}
}

// Create stores a new subscription for ownerID and derives its next billing date.
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (*domain.Subscription, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, validationFailure(err)
	}

	name := domain.NormalizePlatformName(in.PlatformName)
	if name == "" {
		return nil, fmt.Errorf("%w: platformName is required", domain.ErrValidation)
	}
	if err := domain.ValidateAmount(*in.Price.Amount); err != nil {
		return nil, err
	}

	currency := in.Price.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	if !currency.Valid() {
		return nil, fmt.Errorf("%w: unsupported currency %q", domain.ErrValidation, currency)
	}
	if !in.BillingCycle.Valid() {
		return nil, fmt.Errorf("%w: unsupported billingCycle %q", domain.ErrValidation, in.BillingCycle)
	}

	startDate, err := domain.ParseDate(in.StartDate)
	if err != nil {
		return nil, err
	}

	status := in.Status
	if status == "" {
		status = domain.StatusActive
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unsupported status %q", domain.ErrValidation, status)
	}

	reminderDays := domain.DefaultReminderDaysBefore
	if in.ReminderDaysBefore != nil {
		reminderDays = *in.ReminderDaysBefore
	}

	sub := &domain.Subscription{
		ID:                 uuid.NewString(),
		OwnerID:            ownerID,
		PlatformName:       name,
		Price:              domain.Price{Amount: *in.Price.Amount, Currency: currency},
		BillingCycle:       in.BillingCycle,
		StartDate:          startDate,
		Status:             status,
		Category:           domain.NormalizeCategory(in.Category),
		ReminderDaysBefore: reminderDays,
	}
	sub.RecomputeNextBillingDate()

	saved, err := s.repo.Save(ctx, sub)
	if err != nil {
		s.logger.Error("failed to save subscription", "owner_id", ownerID, "error", err)
		return nil, fmt.Errorf("%w: saving subscription: %w", domain.ErrPersistence, err)
	}

	s.publish(ctx, EventSubscriptionCreated, saved)
	return saved, nil
}

// Get returns the subscription when it exists and belongs to ownerID.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*domain.Subscription, error) {
	return s.loadOwned(ctx, ownerID, id)
}

// List returns every subscription of ownerID, soonest renewal first.
// An owner without subscriptions gets ErrNotFound rather than an empty list.
func (s *Service) List(ctx context.Context, ownerID string) ([]domain.Subscription, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}

	subs, err := s.repo.FindByOwner(ctx, ownerID)
	if err != nil {
		s.logger.Error("failed to list subscriptions", "owner_id", ownerID, "error", err)
		return nil, fmt.Errorf("%w: listing subscriptions: %w", domain.ErrPersistence, err)
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: no subscriptions found", domain.ErrNotFound)
	}

	slices.SortStableFunc(subs, func(a, b domain.Subscription) int {
		return a.NextBillingDate.Compare(b.NextBillingDate)
	})
	return subs, nil
}

// Update applies patch to the owner's subscription. The next billing date is
// recomputed when the start date or billing cycle changed.
func (s *Service) Update(ctx context.Context, ownerID, id string, patch domain.Patch) (*domain.Subscription, error) {
	sub, err := s.loadOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	scheduleChanged, err := patch.Apply(sub)
	if err != nil {
		return nil, err
	}
	if scheduleChanged {
		sub.RecomputeNextBillingDate()
	}

	saved, err := s.repo.Save(ctx, sub)
	if err != nil {
		s.logger.Error("failed to update subscription", "subscription_id", id, "error", err)
		return nil, fmt.Errorf("%w: updating subscription: %w", domain.ErrPersistence, err)
	}

	s.publish(ctx, EventSubscriptionUpdated, saved)
	return saved, nil
}

// Delete permanently removes the owner's subscription.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	sub, err := s.loadOwned(ctx, ownerID, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, sub.ID); err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			return fmt.Errorf("%w: subscription not found", domain.ErrNotFound)
		}
		s.logger.Error("failed to delete subscription", "subscription_id", id, "error", err)
		return fmt.Errorf("%w: deleting subscription: %w", domain.ErrPersistence, err)
	}

	s.publish(ctx, EventSubscriptionDeleted, sub)
	return nil
}

// MarkAsPaid records a renewal: the payment date (or now) becomes the new
// start date and the next billing date moves one cycle past it. The status
// is left as is.
func (s *Service) MarkAsPaid(ctx context.Context, ownerID, id string, paidDate *time.Time) (*domain.Subscription, error) {
	sub, err := s.loadOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	effective := s.now().UTC()
	if paidDate != nil {
		effective = paidDate.UTC()
	}
	sub.StartDate = effective
	sub.RecomputeNextBillingDate()

	saved, err := s.repo.Save(ctx, sub)
	if err != nil {
		s.logger.Error("failed to mark subscription as paid", "subscription_id", id, "error", err)
		return nil, fmt.Errorf("%w: marking subscription as paid: %w", domain.ErrPersistence, err)
	}

	s.publish(ctx, EventSubscriptionPaid, saved)
	return saved, nil
}

// loadOwned fetches a subscription and checks that ownerID owns it.
func (s *Service) loadOwned(ctx context.Context, ownerID, id string) (*domain.Subscription, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: subscription not found", domain.ErrNotFound)
	}

	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			return nil, fmt.Errorf("%w: subscription not found", domain.ErrNotFound)
		}
		s.logger.Error("failed to load subscription", "subscription_id", id, "error", err)
		return nil, fmt.Errorf("%w: loading subscription: %w", domain.ErrPersistence, err)
	}
	if !sub.OwnedBy(ownerID) {
		return nil, fmt.Errorf("%w: you do not have permission to access this subscription", domain.ErrForbidden)
	}
	return sub, nil
}

func (s *Service) publish(ctx context.Context, eventType string, sub *domain.Subscription) {
	if s.events == nil {
		return
	}
	event := domain.LifecycleEvent{
		Type:           eventType,
		SubscriptionID: sub.ID,
		OwnerID:        sub.OwnerID,
		Subscription:   sub,
		OccurredAt:     s.now().UTC(),
	}
	if err := s.events.PublishLifecycleEvent(ctx, event); err != nil {
		s.logger.Warn("failed to publish lifecycle event", "type", eventType, "subscription_id", sub.ID, "error", err)
	}
}

func validationFailure(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	fe := fieldErrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", domain.ErrValidation, field)
	case "gte":
		return fmt.Errorf("%w: %s must be %s or greater", domain.ErrValidation, field, fe.Param())
	default:
		return fmt.Errorf("%w: %s is invalid", domain.ErrValidation, field)
	}
}

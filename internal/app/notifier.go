package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/subscribe/subscription-service/internal/domain"
)

// Routing keys used on the subscription events exchange.
const (
	RoutingKeyReminder = "subscription.reminder"
)

// Publisher is the subset of the RabbitMQ producer the adapters need.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// BrokerNotifier hands reminders to the notification pipeline over the
// message broker. Email rendering and delivery happen downstream.
type BrokerNotifier struct {
	publisher Publisher
	exchange  string
	now       func() time.Time
}

// NewBrokerNotifier creates a notifier publishing to exchange.
func NewBrokerNotifier(publisher Publisher, exchange string) *BrokerNotifier {
	return &BrokerNotifier{publisher: publisher, exchange: exchange, now: time.Now}
}

// Remind publishes a reminder event.
func (n *BrokerNotifier) Remind(ctx context.Context, ownerEmail, platformName string, daysUntilDue int) error {
	if n.publisher == nil {
		return errors.New("reminder publisher is not configured")
	}
	event := domain.ReminderEvent{
		OwnerEmail:   ownerEmail,
		PlatformName: platformName,
		DaysUntilDue: daysUntilDue,
		Kind:         domain.ReminderKind(daysUntilDue),
		SentAt:       n.now().UTC(),
	}
	return n.publisher.Publish(ctx, n.exchange, RoutingKeyReminder, event)
}

// PublishLifecycleEvent publishes event with its type as routing key.
func (n *BrokerNotifier) PublishLifecycleEvent(ctx context.Context, event domain.LifecycleEvent) error {
	if n.publisher == nil {
		return errors.New("event publisher is not configured")
	}
	return n.publisher.Publish(ctx, n.exchange, event.Type, event)
}

// LogNotifier writes reminders to the log. It is used when no broker is
// configured so local runs still show what would have been sent.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Remind logs the reminder.
func (n *LogNotifier) Remind(ctx context.Context, ownerEmail, platformName string, daysUntilDue int) error {
	n.logger.Info("renewal reminder",
		"owner_email", ownerEmail,
		"platform", platformName,
		"days_until_due", daysUntilDue,
		"kind", domain.ReminderKind(daysUntilDue),
	)
	return nil
}

// PublishLifecycleEvent logs the event at debug level.
func (n *LogNotifier) PublishLifecycleEvent(ctx context.Context, event domain.LifecycleEvent) error {
	n.logger.Debug("subscription lifecycle event", "type", event.Type, "subscription_id", event.SubscriptionID)
	return nil
}

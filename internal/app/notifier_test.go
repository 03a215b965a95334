package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/subscribe/subscription-service/internal/domain"
)

type publishedMessage struct {
	exchange   string
	routingKey string
	body       interface{}
}

type publisherStub struct {
	messages []publishedMessage
	err      error
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.messages = append(p.messages, publishedMessage{exchange: exchange, routingKey: routingKey, body: body})
	return p.err
}

func TestBrokerNotifier_Remind(t *testing.T) {
	publisher := &publisherStub{}
	notifier := NewBrokerNotifier(publisher, "subscription_events")
	sentAt := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	notifier.now = func() time.Time { return sentAt }

	if err := notifier.Remind(context.Background(), "owner@example.com", "Netflix", -1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(publisher.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(publisher.messages))
	}
	msg := publisher.messages[0]
	if msg.exchange != "subscription_events" || msg.routingKey != RoutingKeyReminder {
		t.Fatalf("unexpected destination %s/%s", msg.exchange, msg.routingKey)
	}
	event, ok := msg.body.(domain.ReminderEvent)
	if !ok {
		t.Fatalf("expected ReminderEvent body, got %T", msg.body)
	}
	if event.OwnerEmail != "owner@example.com" || event.PlatformName != "Netflix" || event.DaysUntilDue != -1 {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Kind != "overdue" || !event.SentAt.Equal(sentAt) {
		t.Fatalf("expected overdue reminder sent at %s, got %s at %s", sentAt, event.Kind, event.SentAt)
	}
}

func TestBrokerNotifier_PublishLifecycleEvent(t *testing.T) {
	publisher := &publisherStub{err: errors.New("channel closed")}
	notifier := NewBrokerNotifier(publisher, "subscription_events")

	err := notifier.PublishLifecycleEvent(context.Background(), domain.LifecycleEvent{
		Type:           EventSubscriptionPaid,
		SubscriptionID: "sub-1",
	})
	if !errors.Is(err, publisher.err) {
		t.Fatalf("expected publisher error, got %v", err)
	}
	if len(publisher.messages) != 1 || publisher.messages[0].routingKey != EventSubscriptionPaid {
		t.Fatalf("expected event type as routing key, got %+v", publisher.messages)
	}
}

func TestBrokerNotifier_WithoutPublisher(t *testing.T) {
	notifier := NewBrokerNotifier(nil, "subscription_events")

	if err := notifier.Remind(context.Background(), "owner@example.com", "Netflix", 1); err == nil {
		t.Fatal("expected error without a publisher")
	}
	if err := notifier.PublishLifecycleEvent(context.Background(), domain.LifecycleEvent{}); err == nil {
		t.Fatal("expected error without a publisher")
	}
}

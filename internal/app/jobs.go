/**
 * @description
 * Scheduled job implementations for the subscription-service.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/subscribe/subscription-service/internal/domain"
)

// ReminderRepository defines database operations needed by the reminder job.
type ReminderRepository interface {
	FindReminderCandidates(ctx context.Context, today time.Time) ([]domain.ReminderCandidate, error)
}

// Notifier tells an owner about an upcoming or overdue renewal. Delivery is
// best effort; the jobs log a failed reminder and move on.
type Notifier interface {
	Remind(ctx context.Context, ownerEmail, platformName string, daysUntilDue int) error
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo     ReminderRepository
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo ReminderRepository, notifier Notifier, logger *slog.Logger) *Jobs {
	return &Jobs{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		timeout:  5 * time.Minute,
		now:      time.Now,
	}
}

// SendRenewalReminders notifies owners whose active subscriptions renew
// within their reminder window. A reminder goes out on the configured
// reminder day, the day before, the due day and the first day overdue.
func (j *Jobs) SendRenewalReminders() {
	j.logger.Info("starting renewal reminder job")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	sent, err := j.sendRenewalReminders(ctx)
	if err != nil {
		j.logger.Error("failed to get reminder candidates", "error", err)
		return
	}

	j.logger.Info("renewal reminder job finished", "sent", sent)
}

func (j *Jobs) sendRenewalReminders(ctx context.Context) (int, error) {
	now := j.now().UTC()
	candidates, err := j.repo.FindReminderCandidates(ctx, now)
	if err != nil {
		return 0, err
	}

	if len(candidates) == 0 {
		j.logger.Info("no subscriptions due for a reminder")
		return 0, nil
	}

	sent := 0
	for _, c := range candidates {
		sub := c.Subscription
		days := domain.DaysUntil(now, sub.NextBillingDate)
		if !shouldRemind(days, sub.ReminderDaysBefore) {
			continue
		}
		if c.OwnerEmail == "" {
			j.logger.Warn("skipping reminder without owner email", "subscription_id", sub.ID)
			continue
		}

		if err := j.notifier.Remind(ctx, c.OwnerEmail, sub.PlatformName, days); err != nil {
			j.logger.Error("failed to send renewal reminder", "subscription_id", sub.ID, "days_until_due", days, "error", err)
			continue
		}
		sent++
		j.logger.Info("sent renewal reminder", "subscription_id", sub.ID, "days_until_due", days)
	}
	return sent, nil
}

func shouldRemind(daysUntilDue, reminderDaysBefore int) bool {
	switch {
	case daysUntilDue == reminderDaysBefore:
		return true
	case daysUntilDue >= -1 && daysUntilDue <= 1:
		return true
	default:
		return false
	}
}

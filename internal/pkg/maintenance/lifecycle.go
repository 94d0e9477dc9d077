package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CobroFox/app/models"
	"github.com/ManuelReschke/CobroFox/internal/pkg/metrics"
)

type ReminderKind string

const (
	ReminderRenewalInTwoDays ReminderKind = "renewal_in_2_days"
	ReminderRenewalTomorrow  ReminderKind = "renewal_tomorrow"
	ReminderPaymentDueToday  ReminderKind = "payment_due_today"
	ReminderGraceFirstDay    ReminderKind = "grace_first_day"
	ReminderGraceLastDay     ReminderKind = "grace_last_day"
)

// Reminder selects subscriptions whose renewal date falls on the calendar
// day DaysAfterRenewal days before today, in the given status.
type Reminder struct {
	Kind             ReminderKind
	DaysAfterRenewal int
	Status           models.SubscriptionStatus
}

var Reminders = []Reminder{
	{Kind: ReminderRenewalInTwoDays, DaysAfterRenewal: -2, Status: models.SubscriptionStatusActive},
	{Kind: ReminderRenewalTomorrow, DaysAfterRenewal: -1, Status: models.SubscriptionStatusActive},
	{Kind: ReminderPaymentDueToday, DaysAfterRenewal: 0, Status: models.SubscriptionStatusPastDue},
	{Kind: ReminderGraceFirstDay, DaysAfterRenewal: 1, Status: models.SubscriptionStatusPastDue},
	{Kind: ReminderGraceLastDay, DaysAfterRenewal: 2, Status: models.SubscriptionStatusPastDue},
}

// Notifier sends one lifecycle reminder for a subscription.
type Notifier interface {
	NotifySubscription(ctx context.Context, kind ReminderKind, sub *models.Subscription) error
}

// Config controls when the daily parts of the run happen.
type Config struct {
	Location *time.Location
	// Daily gates the reminders; Purge must lie inside it.
	Daily Window
	Purge Window
	// RetentionMonths is how long cancelled subscriptions are kept.
	RetentionMonths int
}

func DefaultConfig() Config {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		loc = time.UTC
	}
	w := Window{Start: 9 * time.Hour, End: 9*time.Hour + TickInterval}
	return Config{Location: loc, Daily: w, Purge: w, RetentionMonths: 3}
}

// Report summarizes one run.
type Report struct {
	DebtsOverdue         int64
	SubscriptionsExpired int64
	RemindersSent        int
	RemindersFailed      int
	SubscriptionsPurged  int64
	ResourcesPurged      int64
}

// Engine applies the time based subscription transitions.
type Engine struct {
	repo     Repository
	notifier Notifier
	cfg      Config
	now      func() time.Time
}

func NewEngine(repo Repository, notifier Notifier, cfg Config, now func() time.Time) (*Engine, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Daily.End <= cfg.Daily.Start {
		return nil, errors.New("daily window is empty")
	}
	if !cfg.Purge.Within(cfg.Daily) {
		return nil, fmt.Errorf("purge window %s must lie inside daily window %s", cfg.Purge, cfg.Daily)
	}
	if cfg.RetentionMonths <= 0 {
		cfg.RetentionMonths = 3
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{repo: repo, notifier: notifier, cfg: cfg, now: now}, nil
}

// Run expires subscriptions whose grace period is over and, inside the
// daily window, sends reminders and purges stale rows.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	var report Report
	now := e.now().In(e.cfg.Location)

	expired, err := e.repo.ExpirePastDueSubscriptions(ctx, now.Add(-models.GracePeriod))
	if err != nil {
		return report, fmt.Errorf("expire past due subscriptions: %w", err)
	}
	report.SubscriptionsExpired = expired
	if expired > 0 {
		log.Infof("[Lifecycle] %d subscription(s) expired after the grace period", expired)
		metrics.MaintenanceTransitions.WithLabelValues("subscription_expired").Add(float64(expired))
	}

	if !e.cfg.Daily.Contains(now) {
		return report, nil
	}

	var errs []error
	if err := e.sendReminders(ctx, now, &report); err != nil {
		errs = append(errs, err)
	}
	if e.cfg.Purge.Contains(now) {
		if err := e.purge(ctx, now, &report); err != nil {
			errs = append(errs, err)
		}
	}
	return report, errors.Join(errs...)
}

func (e *Engine) sendReminders(ctx context.Context, now time.Time, report *Report) error {
	today := startOfDay(now)
	var errs []error
	for _, r := range Reminders {
		from := today.AddDate(0, 0, -r.DaysAfterRenewal)
		subs, err := e.repo.SubscriptionsRenewingBetween(ctx, r.Status, from, from.AddDate(0, 0, 1))
		if err != nil {
			errs = append(errs, fmt.Errorf("query %s reminders: %w", r.Kind, err))
			continue
		}
		for i := range subs {
			sub := &subs[i]
			if err := e.notifier.NotifySubscription(ctx, r.Kind, sub); err != nil {
				report.RemindersFailed++
				log.Warnf("[Lifecycle] %s reminder for subscription %d failed: %v", r.Kind, sub.ID, err)
				continue
			}
			report.RemindersSent++
		}
	}
	if report.RemindersSent > 0 || report.RemindersFailed > 0 {
		log.Infof("[Lifecycle] Reminders sent=%d failed=%d", report.RemindersSent, report.RemindersFailed)
	}
	return errors.Join(errs...)
}

func (e *Engine) purge(ctx context.Context, now time.Time, report *Report) error {
	cutoff := now.AddDate(0, -e.cfg.RetentionMonths, 0)
	subs, err := e.repo.DeleteCancelledSubscriptions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge cancelled subscriptions: %w", err)
	}
	report.SubscriptionsPurged = subs

	res, err := e.repo.DeleteOrphanedResources(ctx)
	if err != nil {
		return fmt.Errorf("purge orphaned resources: %w", err)
	}
	report.ResourcesPurged = res

	if subs > 0 || res > 0 {
		log.Infof("[Lifecycle] Purged %d cancelled subscription(s) and %d orphaned resource row(s)", subs, res)
		metrics.MaintenanceTransitions.WithLabelValues("subscription_purged").Add(float64(subs))
		metrics.MaintenanceTransitions.WithLabelValues("resources_purged").Add(float64(res))
	}
	return nil
}

package notifications

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CobroFox/app/models"
	"github.com/ManuelReschke/CobroFox/internal/pkg/mail"
	"github.com/ManuelReschke/CobroFox/internal/pkg/maintenance"
	"github.com/ManuelReschke/CobroFox/internal/pkg/metrics"
)

//go:embed templates/*.html
var templateFS embed.FS

var ErrNoRecipient = errors.New("notifications: tenant has no email address")

var subjects = map[maintenance.ReminderKind]string{
	maintenance.ReminderRenewalInTwoDays: "Tu suscripción se renueva en 2 días",
	maintenance.ReminderRenewalTomorrow:  "Tu suscripción se renueva mañana",
	maintenance.ReminderPaymentDueToday:  "No pudimos cobrar tu suscripción",
	maintenance.ReminderGraceFirstDay:    "Pago de suscripción pendiente",
	maintenance.ReminderGraceLastDay:     "Último día para pagar tu suscripción",
}

// Enqueuer hands a message to the background queue.
type Enqueuer interface {
	EnqueueEmail(ctx context.Context, msg mail.Message) error
}

// Dispatcher renders lifecycle reminders and delivers them by email.
type Dispatcher struct {
	sender    mail.Sender
	queue     Enqueuer
	templates map[maintenance.ReminderKind]*template.Template
	location  *time.Location
	manageURL string
}

type Option func(*Dispatcher)

// WithQueue routes messages through the job queue instead of sending inline.
func WithQueue(q Enqueuer) Option {
	return func(d *Dispatcher) { d.queue = q }
}

func WithLocation(loc *time.Location) Option {
	return func(d *Dispatcher) { d.location = loc }
}

func WithManageURL(url string) Option {
	return func(d *Dispatcher) { d.manageURL = url }
}

func NewDispatcher(sender mail.Sender, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		sender:    sender,
		templates: make(map[maintenance.ReminderKind]*template.Template, len(subjects)),
		location:  time.UTC,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.sender == nil && d.queue == nil {
		return nil, errors.New("notifications: a sender or a queue is required")
	}
	for kind := range subjects {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+string(kind)+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", kind, err)
		}
		d.templates[kind] = t
	}
	return d, nil
}

type reminderData struct {
	TenantName  string
	PlanName    string
	Amount      string
	RenewalDate string
	GraceEndsAt string
	ManageURL   string
}

// Render builds the message for a reminder without sending it.
func (d *Dispatcher) Render(kind maintenance.ReminderKind, sub *models.Subscription) (mail.Message, error) {
	tmpl, ok := d.templates[kind]
	if !ok {
		return mail.Message{}, fmt.Errorf("notifications: unknown reminder %q", kind)
	}
	if sub.Tenant == nil || sub.Tenant.Email == "" {
		return mail.Message{}, ErrNoRecipient
	}

	data := reminderData{
		TenantName:  sub.Tenant.Name,
		RenewalDate: sub.RenewalDate.In(d.location).Format("02/01/2006"),
		GraceEndsAt: sub.GraceEndsAt().In(d.location).Format("02/01/2006 15:04"),
		ManageURL:   d.manageURL,
	}
	if sub.Plan != nil {
		data.PlanName = sub.Plan.Name
		data.Amount = sub.Plan.Price.StringFixed(2)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return mail.Message{}, fmt.Errorf("render %s: %w", kind, err)
	}
	return mail.Message{
		To:       sub.Tenant.Email,
		Subject:  subjects[kind],
		HTMLBody: buf.String(),
		Tag:      string(kind),
	}, nil
}

// NotifySubscription implements maintenance.Notifier. The returned error
// is informational; the caller carries on with the next subscription.
func (d *Dispatcher) NotifySubscription(ctx context.Context, kind maintenance.ReminderKind, sub *models.Subscription) error {
	msg, err := d.Render(kind, sub)
	if err != nil {
		metrics.NotificationsSent.WithLabelValues(string(kind), "skipped").Inc()
		return err
	}

	if d.queue != nil {
		err = d.queue.EnqueueEmail(ctx, msg)
		if err == nil {
			metrics.NotificationsSent.WithLabelValues(string(kind), "queued").Inc()
			return nil
		}
		log.Warnf("[Notifications] Enqueue failed for subscription %d, sending inline: %v", sub.ID, err)
		if d.sender == nil {
			metrics.NotificationsSent.WithLabelValues(string(kind), "failed").Inc()
			return err
		}
	}

	if err := d.sender.Send(ctx, msg); err != nil {
		metrics.NotificationsSent.WithLabelValues(string(kind), "failed").Inc()
		return fmt.Errorf("send %s to tenant %d: %w", kind, sub.TenantID, err)
	}
	metrics.NotificationsSent.WithLabelValues(string(kind), "sent").Inc()
	log.Debugf("[Notifications] Sent %s to tenant %d", kind, sub.TenantID)
	return nil
}

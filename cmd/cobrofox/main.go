package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/CobroFox/app/models"
	"github.com/ManuelReschke/CobroFox/app/repository"
	"github.com/ManuelReschke/CobroFox/internal/pkg/billing"
	"github.com/ManuelReschke/CobroFox/internal/pkg/cache"
	"github.com/ManuelReschke/CobroFox/internal/pkg/config"
	"github.com/ManuelReschke/CobroFox/internal/pkg/database"
	"github.com/ManuelReschke/CobroFox/internal/pkg/env"
	"github.com/ManuelReschke/CobroFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/CobroFox/internal/pkg/mail"
	"github.com/ManuelReschke/CobroFox/internal/pkg/maintenance"
	"github.com/ManuelReschke/CobroFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/CobroFox/internal/pkg/notifications"
	"github.com/ManuelReschke/CobroFox/internal/pkg/realtime"
	"github.com/ManuelReschke/CobroFox/internal/pkg/router"
	"github.com/ManuelReschke/CobroFox/internal/pkg/security"
)

const shutdownTimeout = 15 * time.Second

func main() {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Main] invalid configuration: %v", err)
	}
	if cfg.IsDev() {
		log.SetLevel(log.LevelDebug)
	}

	database.SetupDatabase()
	cache.SetupCache()

	app, manager, err := NewApplication(cfg)
	if err != nil {
		log.Fatalf("[Main] failed to build application: %v", err)
	}
	manager.Start()

	go func() {
		if err := app.Listen(cfg.ListenAddr()); err != nil {
			log.Errorf("[Main] server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Infof("[Main] received %s, shutting down", sig)

	// Stop accepting webhooks before the scheduler and queue drain.
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Errorf("[Main] http shutdown: %v", err)
	}
	manager.Stop()
	if err := cache.Close(); err != nil {
		log.Errorf("[Main] cache close: %v", err)
	}
	if sqlDB, err := database.GetDB().DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// NewApplication wires services, the background manager and routes.
func NewApplication(cfg *config.Config) (*fiber.App, *jobqueue.Manager, error) {
	db := database.GetDB()

	var sealer *security.Sealer
	if cfg.SecretsKey != "" {
		s, err := security.NewSealer(cfg.SecretsKey)
		if err != nil {
			return nil, nil, err
		}
		sealer = s
	} else {
		log.Warn("[Main] SECRETS_KEY not set, gateway secrets are stored unencrypted")
	}

	billingOpts := []billing.Option{
		billing.WithGatewayFactory(billing.NewGatewayFactory(billing.GatewayConfig{PayPalBaseURL: cfg.Gateways.PayPalBaseURL})),
		billing.WithPublisher(realtime.NewRedisPublisher(cache.GetClient())),
		billing.WithReturnURLs(cfg.Gateways.SuccessURL, cfg.Gateways.CancelURL),
		billing.WithPendingUsage(counter.DiscardPending),
	}
	var repoSealer repository.Sealer
	if sealer != nil {
		billingOpts = append(billingOpts, billing.WithSecretOpener(sealer))
		repoSealer = sealer
	}
	billingSvc := billing.NewServiceFromDB(db, billingOpts...)

	repository.InitializeFactory(db, repoSealer)
	repos := repository.GetGlobalRepositories()

	sender, err := newMailSender(cfg.Mail)
	if err != nil {
		return nil, nil, err
	}
	jobqueue.DefaultWorkers = cfg.QueueWorkers
	manager := jobqueue.GetManager()
	manager.GetQueue().SetSender(sender)

	if cfg.Maintenance.Enabled {
		schedule, err := cfg.MaintenanceSchedule()
		if err != nil {
			return nil, nil, err
		}
		dispatcher, err := notifications.NewDispatcher(sender,
			notifications.WithQueue(manager.GetQueue()),
			notifications.WithLocation(schedule.Location),
			notifications.WithManageURL(strings.TrimRight(cfg.PublicURL, "/")+"/suscripcion"),
		)
		if err != nil {
			return nil, nil, err
		}
		runner, err := maintenance.NewRunnerFromDB(db, dispatcher, schedule)
		if err != nil {
			return nil, nil, err
		}
		manager.SetMaintenance(runner)
	}

	app := fiber.New(fiber.Config{
		AppName:   "CobroFox",
		BodyLimit: 1 << 20,
	})
	app.Use(recover.New(), logger.New())
	app.Get("/healthz", func(c *fiber.Ctx) error {
		resp := fiber.Map{"ok": true, "scheduler": manager.IsRunning()}
		if stats, err := manager.GetQueue().Stats(c.Context()); err == nil {
			resp["mail_queue"] = stats
		}
		return c.JSON(resp)
	})

	router.InstallRouter(app, router.Dependencies{
		Config:       cfg,
		Billing:      billingSvc,
		Repositories: repos,
		Usage: func(ctx context.Context, tenantID uint) error {
			return counter.AddTenantUsage(ctx, repos.Tenant, tenantID, models.ResourceAPI, 1)
		},
		LimiterStorage: router.NewLimiterStorage(),
	})

	return app, manager, nil
}

// newMailSender picks the transport for queued emails.
func newMailSender(cfg config.MailConfig) (mail.Sender, error) {
	switch cfg.Provider {
	case "postmark":
		return mail.NewPostmarkSender(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.Sender, cfg.ReplyTo)
	default:
		if cfg.SMTPHost == "" {
			log.Warn("[Main] SMTP_HOST not set, emails are logged and dropped")
			return mail.SenderFunc(func(_ context.Context, msg mail.Message) error {
				log.Infof("[Mail] dropped %q to %s", msg.Subject, msg.To)
				return nil
			}), nil
		}
		return mail.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.Sender), nil
	}
}

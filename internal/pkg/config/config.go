package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	appenv "github.com/ManuelReschke/CobroFox/internal/pkg/env"
	"github.com/ManuelReschke/CobroFox/internal/pkg/maintenance"
)

// Config is the typed view of the .env file and process environment.
type Config struct {
	AppEnv  string `env:"APP_ENV" envDefault:"prod"`
	AppHost string `env:"APP_HOST" envDefault:"0.0.0.0"`
	AppPort string `env:"APP_PORT" envDefault:"4000"`
	// PublicURL is where tenants reach the dashboard; used in emails and checkout return URLs.
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:4000"`

	Mail        MailConfig
	Maintenance MaintenanceConfig
	Gateways    GatewayConfig

	// SecretsKey seals gateway secrets at rest (base64, 32 bytes). Empty disables sealing.
	SecretsKey string `env:"SECRETS_KEY"`

	MetricsUser     string `env:"METRICS_USER" envDefault:"metrics"`
	MetricsPassword string `env:"METRICS_PASSWORD"`

	APIRateLimit  int           `env:"API_RATE_LIMIT" envDefault:"120"`
	APIRateWindow time.Duration `env:"API_RATE_WINDOW" envDefault:"1m"`

	QueueWorkers int `env:"JOB_QUEUE_WORKERS" envDefault:"5"`
}

type MailConfig struct {
	// Provider is "smtp" or "postmark".
	Provider             string `env:"MAIL_PROVIDER" envDefault:"smtp"`
	SMTPHost             string `env:"SMTP_HOST"`
	SMTPPort             string `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername         string `env:"SMTP_USERNAME"`
	SMTPPassword         string `env:"SMTP_PASSWORD"`
	Sender               string `env:"SMTP_SENDER"`
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	ReplyTo              string `env:"MAIL_REPLY_TO"`
}

type MaintenanceConfig struct {
	Timezone        string `env:"MAINTENANCE_TIMEZONE" envDefault:"America/Mexico_City"`
	DailyStart      string `env:"MAINTENANCE_DAILY_START" envDefault:"09:00"`
	DailyEnd        string `env:"MAINTENANCE_DAILY_END" envDefault:"09:15"`
	PurgeStart      string `env:"MAINTENANCE_PURGE_START" envDefault:"09:00"`
	PurgeEnd        string `env:"MAINTENANCE_PURGE_END" envDefault:"09:15"`
	RetentionMonths int    `env:"MAINTENANCE_RETENTION_MONTHS" envDefault:"3"`
	Enabled         bool   `env:"MAINTENANCE_ENABLED" envDefault:"true"`
}

type GatewayConfig struct {
	PayPalBaseURL string `env:"PAYPAL_API_BASE" envDefault:"https://api-m.sandbox.paypal.com"`
	SuccessURL    string `env:"CHECKOUT_SUCCESS_URL"`
	CancelURL     string `env:"CHECKOUT_CANCEL_URL"`
}

// Load parses the merged environment.
func Load() (*Config, error) {
	return Parse(appenv.Merged())
}

func Parse(environment map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Gateways.SuccessURL == "" {
		cfg.Gateways.SuccessURL = cfg.PublicURL + "/pago/exito"
	}
	if cfg.Gateways.CancelURL == "" {
		cfg.Gateways.CancelURL = cfg.PublicURL + "/pago/cancelado"
	}
	return &cfg, nil
}

func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.AppHost, c.AppPort)
}

// MaintenanceSchedule converts the maintenance settings into an engine config.
func (c *Config) MaintenanceSchedule() (maintenance.Config, error) {
	m := c.Maintenance
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		return maintenance.Config{}, fmt.Errorf("maintenance timezone: %w", err)
	}
	daily, err := maintenance.ParseWindow(m.DailyStart, m.DailyEnd)
	if err != nil {
		return maintenance.Config{}, fmt.Errorf("daily window: %w", err)
	}
	purge, err := maintenance.ParseWindow(m.PurgeStart, m.PurgeEnd)
	if err != nil {
		return maintenance.Config{}, fmt.Errorf("purge window: %w", err)
	}
	if !purge.Within(daily) {
		return maintenance.Config{}, fmt.Errorf("purge window %s must lie inside daily window %s", purge, daily)
	}
	return maintenance.Config{
		Location:        loc,
		Daily:           daily,
		Purge:           purge,
		RetentionMonths: m.RetentionMonths,
	}, nil
}

// Package config loads the inkpost configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Notifier names accepted by notify.provider.
const (
	NotifierNone   = "none"
	NotifierStdout = "stdout"
	NotifierSES    = "ses"
)

// Config holds the complete application configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http" envPrefix:"HTTP_"`
	SMTP     SMTPConfig     `yaml:"smtp" envPrefix:"SMTP_"`
	TLS      TLSConfig      `yaml:"tls" envPrefix:"TLS_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
	Device   DeviceConfig   `yaml:"device" envPrefix:"DEVICE_"`
	Delivery DeliveryConfig `yaml:"delivery" envPrefix:"DELIVERY_"`
	Render   RenderConfig   `yaml:"render" envPrefix:"RENDER_"`
	Notify   NotifyConfig   `yaml:"notify" envPrefix:"NOTIFY_"`
	Logging  LoggingConfig  `yaml:"logging" envPrefix:"LOG_"`
}

// HTTPConfig holds the webhook and device API listener configuration.
type HTTPConfig struct {
	Listen string `yaml:"listen" env:"LISTEN"`
	// WebhookToken, when set, must accompany every webhook call.
	WebhookToken string `yaml:"webhook_token" env:"WEBHOOK_TOKEN"`
	// AuthHeader carries the account e-mail asserted by the upstream proxy.
	AuthHeader   string `yaml:"auth_header" env:"AUTH_HEADER"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

// SMTPConfig holds the optional SMTP ingress configuration.
type SMTPConfig struct {
	Enabled        bool   `yaml:"enabled" env:"ENABLED"`
	Listen         string `yaml:"listen" env:"LISTEN"`
	Hostname       string `yaml:"hostname" env:"HOSTNAME"`
	Username       string `yaml:"username" env:"USERNAME"`
	Password       string `yaml:"password" env:"PASSWORD"`
	MaxMessageSize int64  `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
}

// TLSConfig holds STARTTLS settings for the SMTP ingress. Empty file paths
// with Enabled set mean a self-signed certificate.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	CertFile string `yaml:"cert_file" env:"CERT_FILE"`
	KeyFile  string `yaml:"key_file" env:"KEY_FILE"`
}

// DatabaseConfig holds the sqlite data source.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DSN"`
}

// DeviceConfig holds the vendor cloud endpoints.
type DeviceConfig struct {
	AuthURL      string        `yaml:"auth_url" env:"AUTH_URL"`
	SyncURL      string        `yaml:"sync_url" env:"SYNC_URL"`
	Description  string        `yaml:"description" env:"DESCRIPTION"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
	UserTokenTTL time.Duration `yaml:"user_token_ttl" env:"USER_TOKEN_TTL"`
}

// DeliveryConfig holds the delivery domain and per-stage time budgets.
type DeliveryConfig struct {
	Domain           string        `yaml:"domain" env:"DOMAIN"`
	DefaultName      string        `yaml:"default_name" env:"DEFAULT_NAME"`
	AuthorizeTimeout time.Duration `yaml:"authorize_timeout" env:"AUTHORIZE_TIMEOUT"`
	RenderTimeout    time.Duration `yaml:"render_timeout" env:"RENDER_TIMEOUT"`
	UploadTimeout    time.Duration `yaml:"upload_timeout" env:"UPLOAD_TIMEOUT"`
}

// RenderConfig holds the HTML to PDF renderer settings.
type RenderConfig struct {
	PageFormat      string `yaml:"page_format" env:"PAGE_FORMAT"`
	Margin          string `yaml:"margin" env:"MARGIN"`
	Sanitize        bool   `yaml:"sanitize" env:"SANITIZE"`
	DriverDirectory string `yaml:"driver_directory" env:"DRIVER_DIRECTORY"`
	ExecutablePath  string `yaml:"executable_path" env:"EXECUTABLE_PATH"`
	// Install downloads the driver and browser on startup.
	Install bool `yaml:"install" env:"INSTALL"`
}

// NotifyConfig selects how senders receive delivery receipts.
type NotifyConfig struct {
	Provider string    `yaml:"provider" env:"PROVIDER"`
	SES      SESConfig `yaml:"ses" envPrefix:"SES_"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region" env:"REGION"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	Sender          string `yaml:"sender" env:"SENDER"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports the first setting that prevents the service from starting.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Delivery.Domain) == "" {
		errs = append(errs, errors.New("delivery.domain is required"))
	}

	switch c.Notify.Provider {
	case NotifierNone, NotifierStdout:
	case NotifierSES:
		if c.Notify.SES.Region == "" || c.Notify.SES.Sender == "" {
			errs = append(errs, errors.New("notify.ses requires region and sender"))
		}
		if (c.Notify.SES.AccessKeyID == "") != (c.Notify.SES.SecretAccessKey == "") {
			errs = append(errs, errors.New("notify.ses access_key_id and secret_access_key must be set together"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notify.provider %q", c.Notify.Provider))
	}

	if (c.SMTP.Username == "") != (c.SMTP.Password == "") {
		errs = append(errs, errors.New("smtp.username and smtp.password must be set together"))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown logging.level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.HTTP.Listen = ":8080"
	c.HTTP.AuthHeader = "X-Authenticated-Email"
	c.HTTP.MaxBodyBytes = 32 << 20

	c.SMTP.Listen = ":2525"
	c.SMTP.Hostname = "localhost"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize

	c.Database.DSN = "file:inkpost.db?_foreign_keys=on"

	c.Device.Timeout = 60 * time.Second
	c.Device.UserTokenTTL = time.Hour

	c.Delivery.DefaultName = "Email"
	c.Delivery.AuthorizeTimeout = 5 * time.Second
	c.Delivery.RenderTimeout = 60 * time.Second
	c.Delivery.UploadTimeout = 60 * time.Second

	c.Render.PageFormat = "A4"
	c.Render.Margin = "1cm"
	c.Render.Sanitize = true

	c.Notify.Provider = NotifierNone

	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Notify.Provider = strings.ToLower(c.Notify.Provider)
	c.Delivery.Domain = strings.ToLower(strings.TrimSpace(c.Delivery.Domain))
	return nil
}

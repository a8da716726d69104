package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/shineum/inkpost/internal/config"
	"github.com/shineum/inkpost/internal/delivery"
	"github.com/shineum/inkpost/internal/device"
	"github.com/shineum/inkpost/internal/metrics"
	"github.com/shineum/inkpost/internal/notify"
	"github.com/shineum/inkpost/internal/notify/ses"
	"github.com/shineum/inkpost/internal/notify/stdout"
	"github.com/shineum/inkpost/internal/render"
	"github.com/shineum/inkpost/internal/server"
	"github.com/shineum/inkpost/internal/smtp"
	"github.com/shineum/inkpost/internal/store"
	smtptls "github.com/shineum/inkpost/internal/tls"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook, device API and optional SMTP listener",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogger(os.Stdout, cfg.Logging.Level)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, initiating shutdown", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	db, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	renderCfg := render.Config{
		PageFormat:      cfg.Render.PageFormat,
		Margin:          cfg.Render.Margin,
		Sanitize:        cfg.Render.Sanitize,
		DriverDirectory: cfg.Render.DriverDirectory,
		ExecutablePath:  cfg.Render.ExecutablePath,
	}
	if cfg.Render.Install {
		slog.Info("installing rendering engine")
		if err := render.Install(renderCfg); err != nil {
			return err
		}
	}

	cloud := device.NewCloud(device.CloudConfig{
		AuthURL:           cfg.Device.AuthURL,
		SyncURL:           cfg.Device.SyncURL,
		DeviceDescription: cfg.Device.Description,
		Timeout:           cfg.Device.Timeout,
		UserTokenTTL:      cfg.Device.UserTokenTTL,
	})

	notifier, err := selectNotifier(ctx, cfg)
	if err != nil {
		return err
	}

	pipeline := delivery.New(db, render.NewChromium(renderCfg), cloud, notifier, m, delivery.Config{
		DefaultName:      cfg.Delivery.DefaultName,
		AuthorizeTimeout: cfg.Delivery.AuthorizeTimeout,
		RenderTimeout:    cfg.Delivery.RenderTimeout,
		UploadTimeout:    cfg.Delivery.UploadTimeout,
	})
	registrar := device.NewRegistrar(db, cloud, cfg.Delivery.Domain)

	httpServer := server.New(server.Config{
		Listen:       cfg.HTTP.Listen,
		WebhookToken: cfg.HTTP.WebhookToken,
		AuthHeader:   cfg.HTTP.AuthHeader,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	}, pipeline, registrar, db, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	runners := []func(context.Context) error{httpServer.ListenAndServe}

	if cfg.SMTP.Enabled {
		smtpServer, err := newSMTPServer(ctx, cfg, pipeline)
		if err != nil {
			return err
		}
		runners = append(runners, smtpServer.ListenAndServe)
	}

	slog.Info("starting inkpost",
		"version", version,
		"http_listen", cfg.HTTP.Listen,
		"smtp_enabled", cfg.SMTP.Enabled,
		"domain", cfg.Delivery.Domain,
		"notifier", notifier.Name(),
	)

	// The first listener to fail stops the others.
	errCh := make(chan error, len(runners))
	for _, run := range runners {
		run := run
		go func() {
			err := run(ctx)
			if err != nil {
				cancel()
			}
			errCh <- err
		}()
	}

	var errs []error
	for range runners {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	slog.Info("inkpost stopped")
	return nil
}

func newSMTPServer(ctx context.Context, cfg *config.Config, pipeline smtp.Deliverer) (*smtp.Server, error) {
	tlsConfig, err := smtptls.ServerConfig(smtptls.Options{
		Enabled:  cfg.TLS.Enabled,
		CertFile: cfg.TLS.CertFile,
		KeyFile:  cfg.TLS.KeyFile,
		Hostname: cfg.SMTP.Hostname,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup TLS: %w", err)
	}

	tlsMode := "off"
	switch {
	case tlsConfig == nil:
	case cfg.TLS.CertFile != "":
		tlsMode = "file"
	default:
		tlsMode = "self-signed"
	}
	slog.Info("smtp ingress configured",
		"listen", cfg.SMTP.Listen,
		"auth_enabled", cfg.AuthEnabled(),
		"tls_mode", tlsMode,
	)

	var auth *smtp.Authenticator
	if cfg.AuthEnabled() {
		auth = smtp.NewAuthenticator(cfg.SMTP.Username, cfg.SMTP.Password)
	}

	backend := smtp.NewBackend(ctx, pipeline, cfg.Delivery.Domain, auth)
	return smtp.New(smtp.ServerConfig{
		ListenAddr:      cfg.SMTP.Listen,
		Hostname:        cfg.SMTP.Hostname,
		MaxMessageBytes: cfg.SMTP.MaxMessageSize,
		TLSConfig:       tlsConfig,
	}, backend), nil
}

// selectNotifier chooses how delivery receipts reach senders.
func selectNotifier(ctx context.Context, cfg *config.Config) (notify.Notifier, error) {
	switch cfg.Notify.Provider {
	case config.NotifierSES:
		slog.Info("using AWS SES notifier",
			"region", cfg.Notify.SES.Region,
			"sender", cfg.Notify.SES.Sender,
		)
		n, err := ses.New(ctx, ses.Config{
			Region:          cfg.Notify.SES.Region,
			AccessKeyID:     cfg.Notify.SES.AccessKeyID,
			SecretAccessKey: cfg.Notify.SES.SecretAccessKey,
			Sender:          cfg.Notify.SES.Sender,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES notifier: %w", err)
		}
		return n, nil
	case config.NotifierStdout:
		slog.Info("using stdout notifier")
		return stdout.New(), nil
	case config.NotifierNone, "":
		return notify.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown notifier %q", cfg.Notify.Provider)
	}
}

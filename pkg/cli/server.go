package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/telekom/lessonplan-mailer/pkg/api"
	"github.com/telekom/lessonplan-mailer/pkg/audit"
	"github.com/telekom/lessonplan-mailer/pkg/config"
	"github.com/telekom/lessonplan-mailer/pkg/dkim"
	"github.com/telekom/lessonplan-mailer/pkg/mail"
	"github.com/telekom/lessonplan-mailer/pkg/system"
	"github.com/telekom/lessonplan-mailer/pkg/version"
)

// Components is the wired mail pipeline of one mailer process.
type Components struct {
	Storage   mail.Storage
	Transport mail.Transport
	Auditor   *audit.Manager
	Service   *mail.Service

	closers []func() error
}

// Close releases the auditor and the storage backend.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

// Build wires storage, transport, auditor and service from cfg.
func Build(ctx context.Context, cfg config.Config, zl *zap.Logger) (*Components, error) {
	log := zl.Sugar()
	c := &Components{}

	storage, closeStorage, err := newStorage(cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	c.Storage = storage
	if closeStorage != nil {
		c.closers = append(c.closers, closeStorage)
	}

	transport, err := newTransport(ctx, cfg.Mail, log)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Transport = transport

	auditor, err := newAuditor(cfg.Audit, zl)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if auditor != nil {
		c.Auditor = auditor
		c.closers = append(c.closers, auditor.Close)
	}

	c.Service = mail.NewService(storage, transport, mail.ServiceConfig{
		Sender: mail.SenderConfig{
			FromAddress:          cfg.Mail.FromAddress,
			MaxRetries:           cfg.Mail.MaxRetries,
			PauseAfterError:      cfg.Mail.PauseAfterErrorDuration(log),
			DelayBetweenMessages: cfg.Mail.DelayBetweenMessagesDuration(),
		},
		DrainInterval: cfg.Mail.DrainIntervalDuration(log),
	}, c.Auditor, log)
	return c, nil
}

func newStorage(cfg config.Storage, log *zap.SugaredLogger) (mail.Storage, func() error, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.StorageFile, "":
		st, err := mail.NewFileStorage(cfg.QueueDir, cfg.BadDir, log)
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	case config.StoragePostgres:
		st, err := mail.NewPostgresStorage(cfg.PostgresDSN, log)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(); err != nil {
			_ = st.Close()
			return nil, nil, fmt.Errorf("migrate mail storage: %w", err)
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newTransport(ctx context.Context, cfg config.Mail, log *zap.SugaredLogger) (mail.Transport, error) {
	signer, err := dkim.New(cfg.DKIM)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.Transport) {
	case config.TransportSMTP, "":
		return mail.NewSMTPTransport(mail.SMTPConfig{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			Username:           cfg.SMTP.Username,
			Password:           cfg.SMTP.Password,
			SSL:                cfg.SMTP.SSL,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
			LocalName:          cfg.SMTP.LocalName,
		}, cfg.FromName, signer, log), nil
	case config.TransportSES:
		return mail.NewSESTransport(ctx, mail.SESConfig{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		}, cfg.FromName, signer, log)
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Transport)
	}
}

// newAuditor returns nil when auditing is disabled. Events always go to the
// process log; Kafka is added when configured.
func newAuditor(cfg config.Audit, zl *zap.Logger) (*audit.Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	sinks := []audit.Sink{audit.NewLogSink(zl)}
	if cfg.Kafka.Enabled {
		kcfg := audit.KafkaSinkConfig{
			Name:             "kafka",
			Brokers:          cfg.Kafka.Brokers,
			Topic:            cfg.Kafka.Topic,
			CompressionCodec: cfg.Kafka.Compression,
		}
		if cfg.Kafka.TLS {
			tlsCfg := &audit.KafkaTLSConfig{Enabled: true, InsecureSkipVerify: cfg.Kafka.InsecureSkipVerify}
			if cfg.Kafka.CAFile != "" {
				ca, err := os.ReadFile(cfg.Kafka.CAFile)
				if err != nil {
					return nil, fmt.Errorf("read kafka CA file: %w", err)
				}
				tlsCfg.CACert = ca
			}
			kcfg.TLS = tlsCfg
		}
		if cfg.Kafka.SASL != nil {
			kcfg.SASL = &audit.KafkaSASLConfig{
				Mechanism: cfg.Kafka.SASL.Mechanism,
				Username:  cfg.Kafka.SASL.Username,
				Password:  cfg.Kafka.SASL.Password,
			}
		}
		sink, err := audit.NewKafkaSink(kcfg, zl)
		if err != nil {
			return nil, fmt.Errorf("create kafka audit sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	mcfg := audit.DefaultManagerConfig()
	if cfg.QueueSize > 0 {
		mcfg.QueueSize = cfg.QueueSize
	}
	if cfg.WorkerCount > 0 {
		mcfg.WorkerCount = cfg.WorkerCount
	}
	return audit.NewManager(mcfg, zl, sinks...), nil
}

// Run loads the configuration, starts the mail service and serves the API
// until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	if err := config.LoadDotEnv(opts.EnvFile); err != nil {
		return err
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load mailer config: %w", err)
	}
	opts.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid mailer config: %w", err)
	}

	zl, err := system.NewLogger(opts.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	log := zl.Sugar()
	log.With("version", version.Version).Info("Starting lessonplan mailer")
	opts.Print(log)

	components, err := Build(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer func() {
		if err := components.Close(); err != nil {
			log.Warnw("Error releasing mailer resources", "error", err)
		}
	}()

	svc := components.Service
	if err := svc.Start(ctx); err != nil {
		return err
	}

	shutdownTimeout := cfg.Server.ShutdownTimeoutDuration(log)
	stopService := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Warnw("Mail service did not stop cleanly", "error", err)
		}
	}

	if opts.RecoverOnly {
		defer stopService()
		err := svc.Drain(ctx, true)
		status, statusErr := svc.Status()
		if statusErr == nil {
			log.Infow("Recovery drain finished", "queued", status.Queued, "quarantined", status.Quarantined)
		}
		return err
	}

	server := api.NewServer(zl, cfg, opts.Debug, svc)
	if err := server.RegisterAll([]api.APIController{
		api.NewMailController(log, svc, server.EnqueueLimiter().Middleware()),
	}); err != nil {
		server.Close()
		stopService()
		return fmt.Errorf("register mail API: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Listen() }()

	select {
	case <-ctx.Done():
		log.Info("Shutdown requested")
	case err = <-errCh:
		if err != nil {
			log.Errorw("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Warnw("HTTP server did not shut down cleanly", "error", serr)
	}
	stopService()
	log.Info("Mailer stopped")
	return err
}

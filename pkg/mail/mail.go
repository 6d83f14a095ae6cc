package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/telekom/lessonplan-mailer/pkg/dkim"
)

// SMTPConfig describes the relay the SMTP transport dials.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// SSL forces implicit TLS. Port 465 implies it.
	SSL                bool
	InsecureSkipVerify bool
	// LocalName is sent in HELO/EHLO.
	LocalName string
}

// SMTPTransport delivers through an SMTP relay with gomail. Each Open dials a
// fresh session that the drain cycle reuses for all of its messages.
type SMTPTransport struct {
	dialer   *gomail.Dialer
	renderer renderer
	log      *zap.SugaredLogger
}

var _ Transport = (*SMTPTransport)(nil)

func NewSMTPTransport(cfg SMTPConfig, fromName string, signer *dkim.Signer, log *zap.SugaredLogger) *SMTPTransport {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("smtp")
	log.Infow("Initializing SMTP transport",
		"host", cfg.Host,
		"port", cfg.Port,
		"user", cfg.Username,
		"dkim", signer != nil)

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.SSL {
		d.SSL = true
	}
	if cfg.LocalName != "" {
		d.LocalName = cfg.LocalName
	}
	if cfg.InsecureSkipVerify {
		log.Warnw("InsecureSkipVerify is enabled for SMTP TLS connection", "host", cfg.Host)
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true, ServerName: cfg.Host} //nolint:gosec // opt-in for test relays
	}

	return &SMTPTransport{
		dialer:   d,
		renderer: renderer{fromName: fromName, signer: signer},
		log:      log,
	}
}

func (t *SMTPTransport) Name() string { return "smtp" }

// Host returns the relay host.
func (t *SMTPTransport) Host() string { return t.dialer.Host }

// Port returns the relay port.
func (t *SMTPTransport) Port() int { return t.dialer.Port }

func (t *SMTPTransport) Open(ctx context.Context) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sc, err := t.dialer.Dial()
	if err != nil {
		return nil, fmt.Errorf("dial %s:%d: %w", t.dialer.Host, t.dialer.Port, err)
	}
	t.log.Debugw("SMTP session opened", "host", t.dialer.Host, "port", t.dialer.Port)
	return &smtpConnection{sc: sc, renderer: t.renderer}, nil
}

type smtpConnection struct {
	sc       gomail.SendCloser
	renderer renderer
}

func (c *smtpConnection) Send(ctx context.Context, msg *EmailMessage, from string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := c.renderer.render(msg, from)
	if err != nil {
		return err
	}
	return c.sc.Send(from, msg.Recipients, bytes.NewReader(raw))
}

func (c *smtpConnection) Close() error {
	return c.sc.Close()
}

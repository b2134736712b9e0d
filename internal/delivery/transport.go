// Package delivery sends run reports by mail and records every attempt.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

// Transport hands a composed message to a mail system.
type Transport interface {
	Send(ctx context.Context, msg *mail.Msg) error
}

// SMTPOptions parameterise the SMTP transport.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// SMTPTransport submits messages over SMTP with STARTTLS when offered and
// PLAIN authentication.
type SMTPTransport struct {
	opts   SMTPOptions
	logger zerolog.Logger
}

// NewSMTPTransport constructs an SMTP transport.
func NewSMTPTransport(opts SMTPOptions, logger zerolog.Logger) *SMTPTransport {
	if opts.Port <= 0 {
		opts.Port = 587
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &SMTPTransport{
		opts:   opts,
		logger: logger.With().Str("component", "smtp").Str("host", opts.Host).Int("port", opts.Port).Logger(),
	}
}

// Send dials the server, authenticates and delivers msg.
func (t *SMTPTransport) Send(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(t.opts.Host,
		mail.WithPort(t.opts.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(t.opts.Username),
		mail.WithPassword(t.opts.Password),
		mail.WithTimeout(t.opts.Timeout),
	)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}

	start := time.Now()
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	t.logger.Debug().Dur("elapsed", time.Since(start)).Msg("message submitted")
	return nil
}

var _ Transport = (*SMTPTransport)(nil)

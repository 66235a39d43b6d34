// Package notification delivers booking, reminder and feedback messages over
// email and SMS.
package notification

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/config"
)

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// LogSender writes messages to the log instead of delivering them. It stands
// in for a channel that is not configured.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log.With().Str("component", "notification").Logger()}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.log.Info().
		Str("channel", "email").
		Str("to", to).
		Str("subject", subject).
		Int("body_len", len(body)).
		Msg("email not delivered, smtp not configured")
	return nil
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	s.log.Info().
		Str("channel", "sms").
		Str("to", to).
		Int("body_len", len(body)).
		Msg("sms not delivered, gateway not configured")
	return nil
}

// SendersFromConfig picks the SMTP and HTTP gateway senders when they are
// configured and log senders otherwise.
func SendersFromConfig(cfg config.Config, log zerolog.Logger) (EmailSender, SMSSender) {
	var (
		email EmailSender = NewLogSender(log)
		sms   SMSSender   = NewLogSender(log)
	)
	if cfg.SMTPHost != "" {
		email = NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	}
	if cfg.SMSGatewayURL != "" {
		sms = NewHTTPSMSSender(cfg.SMSGatewayURL, cfg.SMSAPIKey, nil)
	}
	return email, sms
}

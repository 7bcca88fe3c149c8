package mail

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
}

// SMTPSender delivers mail through an SMTP relay.
type SMTPSender struct {
	dialer   *gomail.Dialer
	from     string
	fromName string
	logger   *zap.Logger
}

func NewSMTPSender(cfg SMTPConfig, logger *zap.Logger) *SMTPSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	return &SMTPSender{
		dialer:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:     from,
		fromName: cfg.FromName,
		logger:   logger,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	// gomail has no context support; honour cancellation before dialing.
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.from, s.fromName)
	if msg.ToName != "" {
		m.SetAddressHeader("To", msg.To, msg.ToName)
	} else {
		m.SetHeader("To", msg.To)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	if err := s.dialer.DialAndSend(m); err != nil {
		s.logger.Error("smtp send failed", zap.Error(err), zap.String("to", msg.To))
		return fmt.Errorf("mail: smtp send: %w", err)
	}
	s.logger.Info("email sent via smtp", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

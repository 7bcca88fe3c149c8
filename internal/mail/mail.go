// Package mail delivers transactional email (verification codes, appointment
// notices, contact form forwards). Providers are swappable behind Sender.
package mail

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrUnavailable is returned when delivery is short-circuited because the
// provider has been failing.
var ErrUnavailable = errors.New("mail: delivery temporarily unavailable")

// Sender sends a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a plain-text email.
type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

// StubSender logs messages instead of sending them. It keeps a copy of
// everything it was asked to send.
type StubSender struct {
	logger *zap.Logger

	mu   sync.Mutex
	sent []Message
}

func NewStubSender(logger *zap.Logger) *StubSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubSender{logger: logger}
}

func (s *StubSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	s.logger.Info("stub mail sender: would send email",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject))
	return nil
}

// Sent returns a copy of the messages recorded so far.
func (s *StubSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.sent))
	copy(out, s.sent)
	return out
}

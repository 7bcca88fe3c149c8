// Package verification issues one-time codes by email and checks them on the
// server. The code itself is never returned to the caller; only a bcrypt hash
// is kept in Redis until it is used, expires, or is revoked.
package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/harentsoaR/clinic-api/internal/mail"
	"github.com/harentsoaR/clinic-api/internal/metrics"
)

var (
	ErrNoCode          = errors.New("verification: no active code, request a new one")
	ErrCodeMismatch    = errors.New("verification: code does not match")
	ErrTooManyAttempts = errors.New("verification: too many attempts, request a new one")
	ErrDeliveryFailed  = errors.New("verification: code could not be delivered")
)

// incrAttempts bumps the attempt counter only if the code still exists, so an
// expired key is never resurrected without a TTL.
var incrAttempts = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
return redis.call('HINCRBY', KEYS[1], 'attempts', 1)
`)

type Config struct {
	TTL         time.Duration
	MaxAttempts int
	Length      int
	MailSubject string
}

func DefaultConfig() Config {
	return Config{
		TTL:         10 * time.Minute,
		MaxAttempts: 5,
		Length:      6,
		MailSubject: "Your appointment verification code",
	}
}

type Service struct {
	rdb      redis.Cmdable
	mailer   mail.Sender
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	generate func(length int) (string, error)
}

func NewService(rdb redis.Cmdable, mailer mail.Sender, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Length <= 0 {
		cfg.Length = def.Length
	}
	if cfg.MailSubject == "" {
		cfg.MailSubject = def.MailSubject
	}
	return &Service{
		rdb:      rdb,
		mailer:   mailer,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		generate: numericCode,
	}
}

// TTL is how long an issued code stays valid.
func (s *Service) TTL() time.Duration { return s.cfg.TTL }

// CodeLength is the number of characters in an issued code.
func (s *Service) CodeLength() int { return s.cfg.Length }

func key(subject string) string { return "verify:" + subject }

// Issue generates a new code for subject, replacing any previous one, and
// emails it. If delivery fails the code is discarded.
func (s *Service) Issue(ctx context.Context, subject, email string) error {
	code, err := s.generate(s.cfg.Length)
	if err != nil {
		return fmt.Errorf("verification: generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.MinCost)
	if err != nil {
		return fmt.Errorf("verification: hash code: %w", err)
	}

	k := key(subject)
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, k)
	pipe.HSet(ctx, k, "hash", string(hash), "email", email, "attempts", 0)
	pipe.Expire(ctx, k, s.cfg.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("verification: store code: %w", err)
	}

	msg := mail.Message{
		To:      email,
		Subject: s.cfg.MailSubject,
		Body: fmt.Sprintf(
			"Your verification code is: %s. It expires in %d minutes. Ignore this email if you did not request a verification code.",
			code, int(s.cfg.TTL.Minutes()),
		),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		if delErr := s.rdb.Del(context.WithoutCancel(ctx), k).Err(); delErr != nil {
			s.logger.Warn("failed to discard undelivered code", zap.String("subject", subject), zap.Error(delErr))
		}
		s.metrics.CodeFailed("delivery")
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	s.metrics.CodeSent()
	s.logger.Info("verification code issued", zap.String("subject", subject))
	return nil
}

// Verify checks code against the one issued for subject. A matching code is
// consumed. After MaxAttempts failures the code is revoked.
func (s *Service) Verify(ctx context.Context, subject, code string) error {
	k := key(subject)

	attempts, err := incrAttempts.Run(ctx, s.rdb, []string{k}).Int64()
	if err != nil {
		return fmt.Errorf("verification: count attempt: %w", err)
	}
	if attempts < 0 {
		s.metrics.CodeFailed("missing")
		return ErrNoCode
	}

	hash, err := s.rdb.HGet(ctx, k, "hash").Result()
	if errors.Is(err, redis.Nil) {
		s.metrics.CodeFailed("missing")
		return ErrNoCode
	}
	if err != nil {
		return fmt.Errorf("verification: load code: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
		if attempts >= int64(s.cfg.MaxAttempts) {
			s.revoke(ctx, k)
			s.metrics.CodeFailed("attempts")
			return ErrTooManyAttempts
		}
		s.metrics.CodeFailed("mismatch")
		return ErrCodeMismatch
	}

	s.revoke(ctx, k)
	return nil
}

// Revoke discards any code issued for subject.
func (s *Service) Revoke(ctx context.Context, subject string) error {
	if err := s.rdb.Del(ctx, key(subject)).Err(); err != nil {
		return fmt.Errorf("verification: revoke code: %w", err)
	}
	return nil
}

func (s *Service) revoke(ctx context.Context, k string) {
	if err := s.rdb.Del(ctx, k).Err(); err != nil {
		s.logger.Warn("failed to revoke code", zap.String("key", k), zap.Error(err))
	}
}

func numericCode(length int) (string, error) {
	digits := make([]byte, length)
	ten := big.NewInt(10)
	for i := range digits {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

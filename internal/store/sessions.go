package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/harentsoaR/clinic-api/internal/booking"
)

// releaseLock deletes the lock only if it still carries our token, so an
// expired lock taken over by another request is left alone.
var releaseLock = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisSessions stores booking sessions as JSON with a sliding TTL.
type RedisSessions struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisSessions(rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *RedisSessions {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisSessions{rdb: rdb, ttl: ttl, logger: logger}
}

func sessionKey(id string) string { return "booking:session:" + id }

func (s *RedisSessions) Get(ctx context.Context, id string) (*booking.Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, booking.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load session: %w", err)
	}
	var sess booking.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("store: decode session: %w", err)
	}
	return &sess, nil
}

// Save writes the session and resets its expiry.
func (s *RedisSessions) Save(ctx context.Context, sess *booking.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("store: encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(sess.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store: save session: %w", err)
	}
	return nil
}

func (s *RedisSessions) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

// Lock takes a short-lived exclusive lock on key. It returns
// booking.ErrInProgress when another request holds it.
func (s *RedisSessions) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("store: acquire lock: %w", err)
	}
	if !ok {
		return nil, booking.ErrInProgress
	}
	return func() {
		if err := releaseLock.Run(context.WithoutCancel(ctx), s.rdb, []string{key}, token).Err(); err != nil {
			s.logger.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

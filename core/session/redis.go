package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/mukisa/paybot/core/logger"
)

const redisKeyPrefix = "paybot:session:"

type redisStore struct {
	opts   Options
	client *redis.Client
}

// NewRedisStore returns a Store backed by Redis. Expiry rides on the native
// key TTL, so no sweeper is needed and sessions survive process restarts.
func NewRedisStore(client *redis.Client, opts Options) Store {
	opts.normalize()
	return &redisStore{opts: opts, client: client}
}

func redisKey(identity string) string {
	return redisKeyPrefix + identity
}

func (r *redisStore) GetOrCreate(ctx context.Context, identity, displayName string) (*Session, error) {
	data, err := r.client.GetEx(ctx, redisKey(identity), r.opts.TTL).Bytes()
	switch {
	case err == nil:
		var s Session
		if unmarshalErr := json.Unmarshal(data, &s); unmarshalErr == nil {
			s.Touch(r.opts.TTL)
			if displayName != "" {
				s.DisplayName = displayName
			}
			return &s, nil
		}
		// Corrupt payload: treat the identity as fresh.
		logger.Warn(ctx, "session", "session.decode.failed",
			slog.String("identity", identity),
		)
	case errors.Is(err, redis.Nil):
	default:
		return nil, fmt.Errorf("session redis get: %w", err)
	}

	s := New(identity, displayName, r.opts.TTL, r.opts.HistoryLimit)
	if err := r.Save(ctx, s); err != nil {
		return nil, err
	}
	logger.Info(ctx, "session", "session.created",
		slog.String("identity", identity),
	)
	return s, nil
}

func (r *redisStore) Peek(ctx context.Context, identity string) (*Session, bool, error) {
	data, err := r.client.Get(ctx, redisKey(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("session redis get: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, fmt.Errorf("session redis decode: %w", err)
	}
	return &s, true, nil
}

func (r *redisStore) Save(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	s.Touch(r.opts.TTL)
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session redis encode: %w", err)
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		ttl = r.opts.TTL
	}
	if err := r.client.Set(ctx, redisKey(s.Identity), data, ttl).Err(); err != nil {
		return fmt.Errorf("session redis set: %w", err)
	}
	return nil
}

func (r *redisStore) Remove(ctx context.Context, identity string) error {
	if err := r.client.Del(ctx, redisKey(identity)).Err(); err != nil {
		return fmt.Errorf("session redis del: %w", err)
	}
	return nil
}

func (r *redisStore) Close() error {
	return r.client.Close()
}

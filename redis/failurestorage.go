package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/xerrors"
)

// FailureStorage records delivery attempts in redis as sets of trace ids.
// Failed tries live in $prefix:dispatch:delivery-failures:$key-$try and
// messages that gave up live in $prefix:dispatch:terminal-failures:$key.
type FailureStorage struct {
	Redis  *redis.Client
	Config *FailureStorageConfig
}

type FailureStorageConfig struct {
	KeyPrefix string
	// TTL is refreshed on every write. Zero keeps the sets forever.
	TTL time.Duration
}

// HasFailed reports whether the try of the message is recorded as failed.
func (s *FailureStorage) HasFailed(ctx context.Context, key string, try int, traceID string) (bool, error) {
	ok, err := s.Redis.SIsMember(ctx, s.tryKey(key, try), traceID).Result()
	if err != nil {
		return false, xerrors.Errorf("check failure of %s try %d: %w", key, try, err)
	}

	return ok, nil
}

func (s *FailureStorage) IsTerminal(ctx context.Context, key string, traceID string) (bool, error) {
	ok, err := s.Redis.SIsMember(ctx, s.terminalKey(key), traceID).Result()
	if err != nil {
		return false, xerrors.Errorf("check terminal failure of %s: %w", key, err)
	}

	return ok, nil
}

func (s *FailureStorage) MarkFailure(ctx context.Context, key string, try int, traceID string) error {
	return s.add(ctx, s.tryKey(key, try), traceID)
}

func (s *FailureStorage) MarkTerminal(ctx context.Context, key string, traceID string) error {
	return s.add(ctx, s.terminalKey(key), traceID)
}

// MarkSuccess removes the trace id from every recorded try of the key.
func (s *FailureStorage) MarkSuccess(ctx context.Context, key string, traceID string) error {
	tries, err := s.countTries(ctx, key)
	if err != nil {
		return err
	}

	for try := 0; try < tries; try++ {
		if err := s.Redis.SRem(ctx, s.tryKey(key, try), traceID).Err(); err != nil {
			return xerrors.Errorf("clear failure of %s try %d: %w", key, try, err)
		}
	}

	return nil
}

func (s *FailureStorage) add(ctx context.Context, setKey string, traceID string) error {
	if err := s.Redis.SAdd(ctx, setKey, traceID).Err(); err != nil {
		return xerrors.Errorf("add %s to %s: %w", traceID, setKey, err)
	}

	if ttl := s.ttl(); ttl > 0 {
		if err := s.Redis.Expire(ctx, setKey, ttl).Err(); err != nil {
			return xerrors.Errorf("expire %s: %w", setKey, err)
		}
	}

	return nil
}

func (s *FailureStorage) tryKey(key string, try int) string {
	return strings.TrimLeft(fmt.Sprintf(
		"%s:dispatch:delivery-failures:%s-%d",
		s.keyPrefix(),
		key,
		try,
	), ":")
}

func (s *FailureStorage) terminalKey(key string) string {
	return strings.TrimLeft(fmt.Sprintf(
		"%s:dispatch:terminal-failures:%s",
		s.keyPrefix(),
		key,
	), ":")
}

func (s *FailureStorage) keyPrefix() string {
	if s.Config != nil {
		return s.Config.KeyPrefix
	}

	return ""
}

func (s *FailureStorage) ttl() time.Duration {
	if s.Config != nil {
		return s.Config.TTL
	}

	return 0
}

// countTries returns the number of consecutive try sets that exist for key,
// starting at try 0.
func (s *FailureStorage) countTries(ctx context.Context, key string) (int, error) {
	for try := 0; ; try++ {
		exists, err := s.Redis.Exists(ctx, s.tryKey(key, try)).Result()
		if err != nil {
			return 0, xerrors.Errorf("look up failures of %s try %d: %w", key, try, err)
		}

		if exists == 0 {
			return try, nil
		}
	}
}

package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableIssueThrottle    bool
	EnableRotateThrottle   bool
	MaxIssueAttempts       int
	IssueCooldownDuration  time.Duration
	MaxRotateAttempts      int
	RotateCooldownDuration time.Duration
}

// Limiter enforces per-user and per-token rate limits for issuance
// and rotation operations using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func issueUserKey(userID string) string {
	return "rgl:iu:" + userID
}

func issueIPKey(ip string) string {
	return "rgl:ii:" + ip
}

func rotateKey(tokenID string) string {
	return "rgl:rt:" + tokenID
}

// CheckIssue enforces the issuance budget for a user+IP pair by
// incrementing the window counters. Returns ErrRateLimited when exceeded.
func (l *Limiter) CheckIssue(ctx context.Context, userID, ip string) error {
	if !l.config.EnableIssueThrottle {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, issueUserKey(userID), l.config.IssueCooldownDuration)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxIssueAttempts) {
		return ErrRateLimited
	}

	if ip != "" {
		count, err = l.incrementWithTTL(ctx, issueIPKey(ip), l.config.IssueCooldownDuration)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxIssueAttempts) {
			return ErrRateLimited
		}
	}

	return nil
}

// CheckRotate enforces the rotation budget for a single refresh token by
// incrementing the window counter and applying the cooldown TTL.
func (l *Limiter) CheckRotate(ctx context.Context, tokenID string) error {
	if !l.config.EnableRotateThrottle {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, rotateKey(tokenID), l.config.RotateCooldownDuration)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRotateAttempts) {
		return ErrRateLimited
	}

	return nil
}

// ResetIssue clears the issuance counters for a user+IP pair.
func (l *Limiter) ResetIssue(ctx context.Context, userID, ip string) error {
	keys := []string{issueUserKey(userID)}
	if ip != "" {
		keys = append(keys, issueIPKey(ip))
	}

	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// IssueAttempts returns the current issuance counter for a user.
// Missing keys return zero.
func (l *Limiter) IssueAttempts(ctx context.Context, userID string) (int, error) {
	count, err := l.redis.Get(ctx, issueUserKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

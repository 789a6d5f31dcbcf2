package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/perks/internal/config"
)

const keyCouponValidate = "coupon:validate:%s"

// ValidateLimiter throttles coupon validation calls per caller. Validation
// is the only unauthenticated read-heavy endpoint, so it gets its own bucket.
type ValidateLimiter struct {
	enabled bool

	bucket *TokenBucket

	rate  float64
	burst int
}

func NewValidateLimiter(cfg config.Config) (*ValidateLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.ValidateRate <= 0 || limitCfg.ValidateBurst <= 0 {
		return nil, errors.New("coupon validate rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &ValidateLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.ValidateRate,
		burst:   limitCfg.ValidateBurst,
	}, nil
}

func (l *ValidateLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow checks the caller's bucket. The caller key is the user ID when the
// request carries one, otherwise the client address.
func (l *ValidateLimiter) Allow(ctx context.Context, caller string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyCouponValidate, strings.TrimSpace(caller)), l.rate, l.burst)
}

// Package ratelimit throttles credential-guessing attempts with a Redis
// fixed-window counter.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var limiterRejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auth_ratelimit_rejections_total",
		Help: "Total number of requests rejected by the rate limiter",
	},
	[]string{"scope"},
)

// Limiter counts attempts per key in fixed windows. When Redis is down it
// fails open: login availability outranks throttling strictness.
type Limiter struct {
	client *redis.Client
	scope  string
	limit  int64
	window time.Duration
	logger *slog.Logger
}

// New creates a limiter allowing limit attempts per window for each key.
func New(client *redis.Client, scope string, limit int, window time.Duration, logger *slog.Logger) *Limiter {
	return &Limiter{
		client: client,
		scope:  scope,
		limit:  int64(limit),
		window: window,
		logger: logger,
	}
}

// Allow records one attempt for the key and reports whether it is within the
// limit.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil || l.client == nil {
		return true, nil
	}

	redisKey := fmt.Sprintf("ratelimit:%s:%s", l.scope, normalizeKey(key))

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		l.logger.WarnContext(ctx, "rate limiter unavailable, allowing request",
			slog.String("scope", l.scope),
			slog.String("error", err.Error()),
		)
		return true, nil
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			l.logger.WarnContext(ctx, "rate limiter expire failed",
				slog.String("scope", l.scope),
				slog.String("error", err.Error()),
			)
		}
	}

	if count > l.limit {
		limiterRejectionsTotal.WithLabelValues(l.scope).Inc()
		return false, nil
	}
	return true, nil
}

// Reset clears the window for a key. Called after a successful login so a
// correct password is not penalized by earlier failures.
func (l *Limiter) Reset(ctx context.Context, key string) {
	if l == nil || l.client == nil {
		return
	}
	redisKey := fmt.Sprintf("ratelimit:%s:%s", l.scope, normalizeKey(key))
	if err := l.client.Del(ctx, redisKey).Err(); err != nil {
		l.logger.WarnContext(ctx, "rate limiter reset failed",
			slog.String("scope", l.scope),
			slog.String("error", err.Error()),
		)
	}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Package ratelimit implements a per-(user, event, connection) fixed-window
// counter in Redis.
//
// The window is a plain counter with an expiry, not a true sliding window:
// a client can burst up to twice the nominal quota across a window boundary.
// This is a known, accepted approximation.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fixlyapp/fixly/internal/config"
)

const keyPrefix = "rt:ratelimit:"

// Result reports the outcome of one rate-limit check
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter enforces per-event quotas. On any storage error it fails open:
// availability of the chat/presence path outranks strict enforcement.
type Limiter struct {
	rdb *redis.Client
	cfg config.RateLimitConfig
}

// NewLimiter creates a limiter with the given quota configuration
func NewLimiter(rdb *redis.Client, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{rdb: rdb, cfg: cfg}
}

// Allow increments the fixed-window counter for (userID, event,
// connectionID) and reports whether the call is within quota
func (l *Limiter) Allow(ctx context.Context, userID uuid.UUID, event string, connectionID uuid.UUID) Result {
	quota := l.cfg.Quota(event)
	key := keyPrefix + userID.String() + ":" + event + ":" + connectionID.String()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// NX so an existing window keeps its original deadline
	pipe.ExpireNX(ctx, key, quota.Window)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("⚠️  Rate limiter unavailable, failing open: %v", err)
		return Result{Allowed: true, Remaining: quota.MaxRequests, ResetAt: time.Now().Add(quota.Window)}
	}

	count := int(incr.Val())
	resetAt := time.Now().Add(quota.Window)
	if d := ttl.Val(); d > 0 {
		resetAt = time.Now().Add(d)
	}

	remaining := quota.MaxRequests - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= quota.MaxRequests,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

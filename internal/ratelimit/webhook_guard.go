// Package ratelimit holds the redis-backed coordination primitives shared
// between instances: a token bucket guarding webhook ingestion and a TTL
// lock that keeps two workers from running the same sweep concurrently.
// Everything degrades to a no-op when redis is not configured, so single
// instance deployments need no redis at all.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/payflowhq/payflow/internal/config"
)

const (
	keyWebhookSource = "webhooks:payments:%s"
	keyJobLock       = "jobs:lock:%s"
)

// Guard bundles the webhook limiter and the job lock behind one optional
// dependency. A nil *Guard allows everything.
type Guard struct {
	bucket *TokenBucket
	locker *Locker

	webhookRate  float64
	webhookBurst int
}

func NewGuard(cfg config.Config) (*Guard, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &Guard{
		bucket:       NewTokenBucket(client),
		locker:       NewLocker(client),
		webhookRate:  cfg.WebhookRate,
		webhookBurst: cfg.WebhookBurst,
	}, nil
}

func (g *Guard) Enabled() bool {
	return g != nil && g.bucket != nil
}

// AllowWebhook rate limits payment status callbacks per sending host.
func (g *Guard) AllowWebhook(ctx context.Context, source string) (*Result, error) {
	if !g.Enabled() || g.webhookRate <= 0 || g.webhookBurst <= 0 {
		return &Result{Allowed: true}, nil
	}
	return g.bucket.Allow(ctx, fmt.Sprintf(keyWebhookSource, strings.TrimSpace(source)), g.webhookRate, g.webhookBurst)
}

// TryLockJob claims a named job across instances for the given TTL.
// When redis is absent every claim succeeds.
func (g *Guard) TryLockJob(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	if g == nil || g.locker == nil {
		return "", true, nil
	}
	return g.locker.TryLock(ctx, fmt.Sprintf(keyJobLock, name), ttl)
}

func (g *Guard) ReleaseJob(ctx context.Context, name, token string) error {
	if g == nil || g.locker == nil {
		return nil
	}
	return g.locker.Release(ctx, fmt.Sprintf(keyJobLock, name), token)
}

// Package ratelimit implements the single token bucket shared by every caller
// of a throttled upstream API.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/housing-harvester/internal/metrics"
)

// Limiter spaces calls at least MinInterval apart and lets a caller push every
// other caller back after the upstream asks for a pause.
type Limiter struct {
	limiter *rate.Limiter

	mu        sync.Mutex
	notBefore time.Time
}

// Config holds rate limiter configuration.
type Config struct {
	// MinInterval is the minimum spacing between calls. Zero disables spacing.
	MinInterval time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Inf
	if cfg.MinInterval > 0 {
		r = rate.Every(cfg.MinInterval)
	}
	return &Limiter{limiter: rate.NewLimiter(r, 1)}
}

// Wait blocks until the caller may issue its next call, respecting the context.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	for {
		l.mu.Lock()
		pause := time.Until(l.notBefore)
		l.mu.Unlock()
		if pause <= 0 {
			break
		}
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}

// Penalize holds back every caller for at least d from now.
func (l *Limiter) Penalize(d time.Duration) {
	if d <= 0 {
		return
	}
	until := time.Now().Add(d)
	l.mu.Lock()
	if until.After(l.notBefore) {
		l.notBefore = until
	}
	l.mu.Unlock()
}

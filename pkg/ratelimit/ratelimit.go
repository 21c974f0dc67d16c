// Package ratelimit admits requests per caller key using token buckets.
// Buckets live in an in-memory cache keyed by the caller's Authorization
// value and are flushed once a day so abandoned keys do not accumulate.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/kumarabd/gokit/logger"
	gocache "github.com/patrickmn/go-cache"
)

// Config contains configuration for the rate limiter
type Config struct {
	Capacity       int           `json:"capacity" yaml:"capacity" default:"50"`
	Refill         int           `json:"refill" yaml:"refill" default:"50"`
	RefillInterval time.Duration `json:"refill_interval" yaml:"refill_interval" default:"1m"`
	SweepHourUTC   int           `json:"sweep_hour_utc" yaml:"sweep_hour_utc" default:"4"`
}

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed           bool
	Remaining         int
	RetryAfterSeconds int
}

type bucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// Limiter tracks one token bucket per caller key.
type Limiter struct {
	config *Config
	store  *gocache.Cache
	log    *logger.Handler
	now    func() time.Time
	done   chan struct{}
	once   sync.Once
}

// New creates a new rate limiter
func New(config *Config, l *logger.Handler) *Limiter {
	return &Limiter{
		config: config,
		store:  gocache.New(gocache.NoExpiration, 0),
		log:    l,
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Allow runs an admission check for the given caller key. An empty key is
// always admitted and never creates a bucket; callers decide whether to
// require a key at all.
func (l *Limiter) Allow(key string) Decision {
	if key == "" {
		return Decision{Allowed: true, Remaining: -1}
	}

	b := l.bucket(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	l.refillLocked(b, now)

	if b.tokens > 0 {
		b.tokens--
		return Decision{Allowed: true, Remaining: b.tokens}
	}

	wait := b.lastRefill.Add(l.config.RefillInterval).Sub(now)
	retry := int(math.Ceil(wait.Seconds()))
	if retry < 1 {
		retry = 1
	}
	return Decision{Allowed: false, Remaining: 0, RetryAfterSeconds: retry}
}

// bucket fetches or creates the bucket for a key. Add is atomic, so exactly
// one of any set of concurrent first callers creates the bucket.
func (l *Limiter) bucket(key string) *bucket {
	if v, ok := l.store.Get(key); ok {
		return v.(*bucket)
	}
	fresh := &bucket{tokens: l.config.Capacity, lastRefill: l.now()}
	if err := l.store.Add(key, fresh, gocache.NoExpiration); err == nil {
		return fresh
	}
	v, _ := l.store.Get(key)
	return v.(*bucket)
}

// refillLocked credits whole elapsed refill intervals, clamped at capacity.
// Caller holds b.mu.
func (l *Limiter) refillLocked(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed < l.config.RefillInterval {
		return
	}
	steps := int(elapsed / l.config.RefillInterval)
	b.tokens += steps * l.config.Refill
	if b.tokens > l.config.Capacity {
		b.tokens = l.config.Capacity
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(steps) * l.config.RefillInterval)
}

// Start launches the daily sweep that drops all buckets at the configured
// UTC hour.
func (l *Limiter) Start() {
	go func() {
		for {
			wait := time.Until(nextSweep(l.now(), l.config.SweepHourUTC))
			select {
			case <-time.After(wait):
				l.store.Flush()
				l.log.Info().Msg("rate limit buckets flushed")
			case <-l.done:
				return
			}
		}
	}()
}

// Close stops the sweep goroutine.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.done) })
}

// nextSweep returns the next occurrence of the given UTC hour after now.
func nextSweep(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

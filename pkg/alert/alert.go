// Package alert caches the latest abnormal-IP verdict so that many SSE
// subscribers share a single oracle call per freshness window.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/kumarabd/gokit/logger"
	"golang.org/x/sync/singleflight"

	"github.com/netwatch/analytics-core/internal/metrics"
	"github.com/netwatch/analytics-core/pkg/analytics"
	"github.com/netwatch/analytics-core/pkg/model"
)

// Config contains configuration for the alert cache
type Config struct {
	TTL time.Duration `json:"ttl" yaml:"ttl" default:"120s"`
}

// predictionWindowMinutes is the trailing window each refresh asks the oracle
// for. The TTL bounds staleness, not the window size.
const predictionWindowMinutes = 60

// Predictor is the oracle capability the cache refreshes from.
type Predictor interface {
	Predictions(ctx context.Context, minutes int) ([]model.AnomalySlot, error)
}

// Cache holds the last known abnormal-IP set and refreshes it at most once
// per TTL. Concurrent readers hitting a stale cache collapse into a single
// oracle call; on refresh failure the previous snapshot is served as is.
type Cache struct {
	config  *Config
	oracle  Predictor
	log     *logger.Handler
	metric  *metrics.Handler
	group   singleflight.Group
	now     func() time.Time

	mu          sync.RWMutex
	ips         []string
	refreshedAt time.Time
}

// New creates a new alert cache
func New(config *Config, oracle Predictor, l *logger.Handler, m *metrics.Handler) *Cache {
	return &Cache{
		config: config,
		oracle: oracle,
		log:    l,
		metric: m,
		now:    time.Now,
	}
}

// Latest returns the current abnormal-IP alert, refreshing from the oracle
// when the cached snapshot is older than the TTL.
func (c *Cache) Latest(ctx context.Context) model.AbnormalIPAlert {
	c.mu.RLock()
	fresh := c.now().Sub(c.refreshedAt) < c.config.TTL
	ips := c.ips
	c.mu.RUnlock()

	if fresh {
		return alertFrom(ips)
	}

	// Single key: all stale readers share one refresh.
	v, _, _ := c.group.Do("refresh", func() (interface{}, error) {
		return c.refresh(ctx), nil
	})
	return alertFrom(v.([]string))
}

func (c *Cache) refresh(ctx context.Context) []string {
	c.mu.RLock()
	fresh := c.now().Sub(c.refreshedAt) < c.config.TTL
	ips := c.ips
	c.mu.RUnlock()
	if fresh {
		// A concurrent caller refreshed while we waited on the group.
		return ips
	}

	slots, err := c.oracle.Predictions(ctx, predictionWindowMinutes)
	if err != nil {
		c.log.Error().Err(err).Msg("alert refresh failed, serving stale snapshot")
		c.metric.IncAlertRefresh("error")
		return ips
	}

	next := analytics.AbnormalIPs(slots)
	c.mu.Lock()
	c.ips = next
	c.refreshedAt = c.now()
	c.mu.Unlock()

	c.metric.IncAlertRefresh("success")
	c.log.Info().Int("abnormal_ips", len(next)).Msg("alert snapshot refreshed")
	return next
}

func alertFrom(ips []string) model.AbnormalIPAlert {
	if ips == nil {
		ips = []string{}
	}
	return model.AbnormalIPAlert{AbnormalIPs: ips}
}

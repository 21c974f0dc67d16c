// Package analytics talks to the upstream anomaly-detection oracle and fuses
// its predictions with live log-store data. The oracle call is expensive;
// callers that can tolerate staleness should go through the alert cache
// instead of calling the client directly.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kumarabd/gokit/logger"

	"github.com/netwatch/analytics-core/internal/metrics"
	"github.com/netwatch/analytics-core/pkg/model"
)

const predictionsPath = "/api/v1/analytics/anomaly_detection/get_predictions/"

// Config contains configuration for the anomaly oracle client
type Config struct {
	URL     string        `json:"url" yaml:"url" default:"http://localhost:8000"`
	Timeout time.Duration `json:"timeout" yaml:"timeout" default:"10s"`
}

// Client calls the anomaly oracle over HTTP.
type Client struct {
	config  *Config
	http    *http.Client
	breaker *Breaker
	log     *logger.Handler
	metric  *metrics.Handler
}

// NewClient creates a new anomaly oracle client
func NewClient(config *Config, l *logger.Handler, m *metrics.Handler) *Client {
	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		breaker: NewBreaker(5, 30*time.Second), // 5 failures, 30s timeout
		log:     l,
		metric:  m,
	}
}

// Predictions fetches per-slot (ip, status) predictions for the trailing
// window of the given number of minutes. A negative status marks an IP as
// abnormal.
func (c *Client) Predictions(ctx context.Context, minutes int) ([]model.AnomalySlot, error) {
	if c.breaker.Open() {
		c.metric.IncOracleCall("breaker_open")
		return nil, fmt.Errorf("anomaly oracle circuit open")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL+predictionsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("building oracle request: %w", err)
	}
	req.Header.Set("minutes", strconv.Itoa(minutes))

	start := time.Now()
	resp, err := c.http.Do(req)
	c.metric.ObserveOracleLatency(time.Since(start))
	if err != nil {
		c.breaker.Fail()
		c.metric.IncOracleCall("error")
		return nil, fmt.Errorf("oracle request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.breaker.Fail()
		c.metric.IncOracleCall("error")
		return nil, fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}

	var slots []model.AnomalySlot
	if err := json.NewDecoder(resp.Body).Decode(&slots); err != nil {
		c.breaker.Fail()
		c.metric.IncOracleCall("error")
		return nil, fmt.Errorf("decoding oracle response: %w", err)
	}

	c.breaker.Success()
	c.metric.IncOracleCall("success")
	return slots, nil
}

// AbnormalIPs flattens prediction slots into the IPs whose status is
// negative.
func AbnormalIPs(slots []model.AnomalySlot) []string {
	ips := []string{}
	for _, slot := range slots {
		n := len(slot.IPs)
		if len(slot.Statuses) < n {
			n = len(slot.Statuses)
		}
		for i := 0; i < n; i++ {
			if slot.Statuses[i] < 0 {
				ips = append(ips, slot.IPs[i])
			}
		}
	}
	return ips
}

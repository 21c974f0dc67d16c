package config

import (
	"fmt"
	"time"

	config_pkg "github.com/kumarabd/gokit/config"

	"github.com/netwatch/analytics-core/pkg/alert"
	"github.com/netwatch/analytics-core/pkg/analytics"
	"github.com/netwatch/analytics-core/pkg/logstore"
	"github.com/netwatch/analytics-core/pkg/ratelimit"
	"github.com/netwatch/analytics-core/pkg/server"
)

var (
	ApplicationName    = "analytics-core"
	ApplicationVersion = "dev"
)

type Config struct {
	Server    *server.Config    `json:"server,omitempty" yaml:"server,omitempty"`
	LogStore  *logstore.Config  `json:"logstore" yaml:"logstore"`
	Oracle    *analytics.Config `json:"oracle" yaml:"oracle"`
	Alerts    *alert.Config     `json:"alerts" yaml:"alerts"`
	RateLimit *ratelimit.Config `json:"ratelimit" yaml:"ratelimit"`
}

// New creates a new config instance
func New() (*Config, error) {
	// Create default config object
	configObject := &Config{
		Server: &server.Config{
			HTTP: &server.HTTPConfig{
				Host:         "0.0.0.0",
				Port:         "8080",
				ReadTimeout:  30 * time.Second,
				IdleTimeout:  60 * time.Second,
				FeedInterval: 5 * time.Second,
			},
		},
		LogStore: &logstore.Config{
			Addresses: []string{"http://localhost:9200"},
		},
		Oracle: &analytics.Config{
			URL:     "http://localhost:8000",
			Timeout: 10 * time.Second,
		},
		Alerts: &alert.Config{
			TTL: 120 * time.Second,
		},
		RateLimit: &ratelimit.Config{
			Capacity:       50,
			Refill:         50,
			RefillInterval: time.Minute,
			SweepHourUTC:   4,
		},
	}

	// Load config using gokit config package
	finalConfig, err := config_pkg.New(configObject)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if finalConfig == nil {
		return nil, fmt.Errorf("config is nil")
	}

	cfg, ok := finalConfig.(*Config)
	if !ok {
		return nil, fmt.Errorf("config type assertion failed: expected *Config, got %T", finalConfig)
	}

	return cfg, nil
}

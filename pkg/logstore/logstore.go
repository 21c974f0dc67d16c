// Package logstore wraps the Elasticsearch cluster holding the HTTP
// transaction logs. Records are partitioned into daily indices written by an
// external pipeline; this package only reads.
package logstore

import (
	"context"
	"fmt"
	"time"

	"github.com/kumarabd/gokit/logger"
	"github.com/olivere/elastic/v7"

	"github.com/netwatch/analytics-core/internal/metrics"
)

const (
	// IndexBase is the prefix of the daily log indices, e.g.
	// connectors-2023.01.02.
	IndexBase = "connectors-"
	// IndexWildcard addresses all daily indices at once.
	IndexWildcard = "connectors-*"
	// MaxPageSize is the page size cap enforced by the engine.
	MaxPageSize = 10000
)

// Config contains configuration for the log store connection
type Config struct {
	Addresses []string `json:"addresses" yaml:"addresses"`
	Username  string   `json:"username" yaml:"username"`
	Password  string   `json:"password" yaml:"password"`
}

// Client is a thin read-only client over the transaction log indices.
type Client struct {
	es     *elastic.Client
	log    *logger.Handler
	metric *metrics.Handler
}

// New creates a new log store client
func New(config *Config, l *logger.Handler, m *metrics.Handler) (*Client, error) {
	opts := []elastic.ClientOptionFunc{
		elastic.SetURL(config.Addresses...),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(false),
	}
	if config.Username != "" {
		opts = append(opts, elastic.SetBasicAuth(config.Username, config.Password))
	}

	es, err := elastic.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create log store client: %w", err)
	}

	return &Client{
		es:     es,
		log:    l,
		metric: m,
	}, nil
}

// Count returns the number of records in index matching query. A missing
// index counts as zero, not an error: daily indices only exist for days that
// produced traffic.
func (c *Client) Count(ctx context.Context, index string, query elastic.Query) (int64, error) {
	start := time.Now()
	n, err := c.es.Count(index).Query(query).Do(ctx)
	c.metric.ObserveStoreQuery("count", time.Since(start))
	if err != nil {
		if elastic.IsNotFound(err) {
			c.log.Debug().Str("index", index).Msg("index does not exist, counting zero")
			return 0, nil
		}
		return 0, fmt.Errorf("count on %s failed: %w", index, err)
	}
	return n, nil
}

// Aggregate runs query against index with a single named top-level
// aggregation and returns the raw result. No documents are fetched.
func (c *Client) Aggregate(ctx context.Context, index string, query elastic.Query, name string, agg elastic.Aggregation) (*elastic.SearchResult, error) {
	start := time.Now()
	res, err := c.es.Search(index).
		Query(query).
		Aggregation(name, agg).
		Size(0).
		Do(ctx)
	c.metric.ObserveStoreQuery("aggregate", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("aggregation %s on %s failed: %w", name, index, err)
	}
	return res, nil
}

// Search runs query against index returning at most size documents with only
// the given source fields populated.
func (c *Client) Search(ctx context.Context, index string, query elastic.Query, fields []string, size int) (*elastic.SearchResult, error) {
	if size > MaxPageSize {
		size = MaxPageSize
	}
	start := time.Now()
	res, err := c.es.Search(index).
		Query(query).
		FetchSourceContext(elastic.NewFetchSourceContext(true).Include(fields...)).
		Size(size).
		Do(ctx)
	c.metric.ObserveStoreQuery("search", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("search on %s failed: %w", index, err)
	}
	return res, nil
}

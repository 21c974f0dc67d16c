package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/kumarabd/gokit/logger"
	"github.com/olivere/elastic/v7"

	"github.com/netwatch/analytics-core/pkg/logstore"
	"github.com/netwatch/analytics-core/pkg/model"
	"github.com/netwatch/analytics-core/pkg/query"
)

const (
	aggFoundIPs    = "get_ip"
	aggHitsPerIP   = "hits_per_ip"
	aggCountryOfIP = "country_code_of_ip"
	aggErrorsPerIP = "errors_per_ip"
)

// Oracle is the prediction capability the service consumes.
type Oracle interface {
	Predictions(ctx context.Context, minutes int) ([]model.AnomalySlot, error)
}

// LogStore is the aggregation capability used for the oracle/log joins.
type LogStore interface {
	Aggregate(ctx context.Context, index string, query elastic.Query, name string, agg elastic.Aggregation) (*elastic.SearchResult, error)
}

// Service joins oracle predictions with log-store data. Unlike the dashboard
// aggregations these paths fail hard when the oracle is unreachable: there is
// no meaningful partial answer without its output.
type Service struct {
	oracle Oracle
	store  LogStore
	log    *logger.Handler
	now    func() time.Time
}

// NewService creates a new analytics service
func NewService(oracle Oracle, store LogStore, l *logger.Handler) *Service {
	return &Service{
		oracle: oracle,
		store:  store,
		log:    l,
		now:    time.Now,
	}
}

// AnomalyResults returns the oracle's prediction slots, optionally narrowed
// to IPs actually observed in the given connector's logs.
func (s *Service) AnomalyResults(ctx context.Context, connector string, minutes int) ([]model.AnomalySlot, error) {
	slots, err := s.oracle.Predictions(ctx, minutes)
	if err != nil {
		return nil, fmt.Errorf("anomaly results unavailable: %w", err)
	}
	if connector == "" {
		return slots, nil
	}

	allIPs := uniqueIPs(slots)
	if len(allIPs) > logstore.MaxPageSize {
		s.log.Warn().Int("ips", len(allIPs)).Msg("predicted IP set exceeds page size, truncating")
		allIPs = allIPs[:logstore.MaxPageSize]
	}
	if len(allIPs) == 0 {
		return slots, nil
	}

	q, err := query.Filter{Connector: connector, ClientIPs: allIPs}.Build()
	if err != nil {
		return nil, err
	}
	agg := elastic.NewTermsAggregation().Field(query.ClientIPField).Size(logstore.MaxPageSize)

	res, err := s.store.Aggregate(ctx, logstore.IndexWildcard, q, aggFoundIPs, agg)
	if err != nil {
		return nil, fmt.Errorf("anomaly results unavailable: %w", err)
	}

	found := make(map[string]bool)
	if terms, ok := res.Aggregations.Terms(aggFoundIPs); ok {
		for _, b := range terms.Buckets {
			if ip, ok := b.Key.(string); ok {
				found[ip] = true
			}
		}
	}

	// Keep only (ip, status) pairs observed for this connector.
	filtered := make([]model.AnomalySlot, 0, len(slots))
	for _, slot := range slots {
		out := model.AnomalySlot{}
		n := len(slot.IPs)
		if len(slot.Statuses) < n {
			n = len(slot.Statuses)
		}
		for i := 0; i < n; i++ {
			if found[slot.IPs[i]] {
				out.IPs = append(out.IPs, slot.IPs[i])
				out.Statuses = append(out.Statuses, slot.Statuses[i])
			}
		}
		filtered = append(filtered, out)
	}
	return filtered, nil
}

// SecurityReport fetches hit count, error count and country per abnormal IP
// over the last 60 minutes. Oracle failure fails the report; a log-store
// failure after a successful oracle call degrades to an empty list.
func (s *Service) SecurityReport(ctx context.Context) ([]model.SecurityReportEntry, error) {
	slots, err := s.oracle.Predictions(ctx, 60)
	if err != nil {
		return nil, fmt.Errorf("security report unavailable: %w", err)
	}

	abnormal := AbnormalIPs(slots)
	s.log.Info().Int("abnormal_ips", len(abnormal)).Msg("computing security report")

	entries := []model.SecurityReportEntry{}
	if len(abnormal) == 0 {
		return entries, nil
	}
	if len(abnormal) > logstore.MaxPageSize {
		s.log.Warn().Int("ips", len(abnormal)).Msg("abnormal IP set exceeds page size, truncating")
		abnormal = abnormal[:logstore.MaxPageSize]
	}

	now := s.now().UTC().Truncate(time.Second)
	since := now.Add(-60 * time.Minute).Truncate(time.Minute)

	q := elastic.NewBoolQuery().
		Must(query.Terms(query.ClientIPField, abnormal)).
		Must(query.TimeRange(since, now))

	agg := elastic.NewTermsAggregation().
		Field(query.ClientIPField).
		Size(logstore.MaxPageSize).
		SubAggregation(aggCountryOfIP, elastic.NewTermsAggregation().Field(query.CountryField)).
		SubAggregation(aggErrorsPerIP, elastic.NewFilterAggregation().
			Filter(elastic.NewRangeQuery(query.ResponseNumField).Gt(399)))

	res, err := s.store.Aggregate(ctx, logstore.IndexWildcard, q, aggHitsPerIP, agg)
	if err != nil {
		s.log.Error().Err(err).Msg("security report aggregation failed")
		return entries, nil
	}

	terms, ok := res.Aggregations.Terms(aggHitsPerIP)
	if !ok {
		return entries, nil
	}
	for _, b := range terms.Buckets {
		ip, _ := b.Key.(string)
		entry := model.SecurityReportEntry{IP: ip, Hits: b.DocCount}
		if countries, ok := b.Terms(aggCountryOfIP); ok && len(countries.Buckets) > 0 {
			entry.CountryCode, _ = countries.Buckets[0].Key.(string)
		}
		if errors, ok := b.Filter(aggErrorsPerIP); ok {
			entry.Errors = errors.DocCount
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// uniqueIPs collects the distinct IPs across all slots in first-seen order.
func uniqueIPs(slots []model.AnomalySlot) []string {
	seen := make(map[string]bool)
	ips := []string{}
	for _, slot := range slots {
		for _, ip := range slot.IPs {
			if !seen[ip] {
				seen[ip] = true
				ips = append(ips, ip)
			}
		}
	}
	return ips
}

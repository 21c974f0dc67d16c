// Package monitoring answers the bucketed statistical queries behind the
// network dashboards. Every operation is read-only and issues its own
// independent query against the log store.
//
// Counting transactions is always preferred over fetching documents: each log
// record is one HTTP transaction, so engine-side counts and aggregations keep
// the data volume orders of magnitude below a document fetch. The monthly
// series is the one exception that queries per-day indices individually; the
// other windows use a single aggregation over the wildcard index.
//
// Operations degrade on upstream failure: the error is logged and returned
// alongside a zero-filled result, so dashboard callers can still render a
// blank chart while tests and non-HTTP callers can tell failure from no data.
package monitoring

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kumarabd/gokit/logger"
	"github.com/olivere/elastic/v7"

	"github.com/netwatch/analytics-core/pkg/logstore"
	"github.com/netwatch/analytics-core/pkg/model"
	"github.com/netwatch/analytics-core/pkg/query"
	"github.com/netwatch/analytics-core/pkg/timefmt"
)

const (
	aggPerHour       = "query_per_hour"
	aggPerCountry    = "hits_per_country"
	aggCountryName   = "get_country_name"
	aggPerDay        = "per_day"
	aggSumBytes      = "sum_bytes_sent"
	aggResponseCodes = "hits_per_response_code"
	aggPerConnector  = "per_connector"
	aggLatestStamp   = "latest_timestamp"
)

// LogStore is the query capability the engine consumes.
type LogStore interface {
	Count(ctx context.Context, index string, query elastic.Query) (int64, error)
	Aggregate(ctx context.Context, index string, query elastic.Query, name string, agg elastic.Aggregation) (*elastic.SearchResult, error)
	Search(ctx context.Context, index string, query elastic.Query, fields []string, size int) (*elastic.SearchResult, error)
}

// Engine executes the monitoring query shapes against the log store.
type Engine struct {
	store LogStore
	log   *logger.Handler
	now   func() time.Time
}

// New creates a new aggregation engine
func New(store LogStore, l *logger.Handler) *Engine {
	return &Engine{
		store: store,
		log:   l,
		now:   time.Now,
	}
}

// QueryLastMonth returns the transaction count per day for a 30-day span
// centered on today, one count query per daily index. A day whose index does
// not exist counts as zero.
func (e *Engine) QueryLastMonth(ctx context.Context, connector string) (model.TimeSeries, error) {
	ref := e.now().UTC().AddDate(0, 0, -15)

	labels := make([]string, 0, 30)
	counts := make([]int64, 0, 30)
	var firstErr error

	for i := 1; i <= 30; i++ {
		day := ref.AddDate(0, 0, i).Format(timefmt.IndexDayLayout)
		n, err := e.store.Count(ctx, logstore.IndexBase+day, query.Scoped(connector))
		if err != nil {
			e.log.Error().Err(err).Str("index", logstore.IndexBase+day).Msg("day count failed")
			if firstErr == nil {
				firstErr = err
			}
			n = 0
		}
		labels = append(labels, day)
		counts = append(counts, n)
	}

	return model.TimeSeries{XAxis: labels, YAxis: counts}, firstErr
}

// Query24HourCounts returns an hourly transaction histogram over the trailing
// 24 hours, zero-filled to exactly 24 buckets. One engine-side aggregation
// over the wildcard index; this is the query behind the live feed.
func (e *Engine) Query24HourCounts(ctx context.Context, connector string) (model.TimeSeries, error) {
	now := e.now().UTC().Truncate(time.Second)
	start := now.Truncate(time.Hour).Add(-23 * time.Hour)

	starts := bucketStarts(start, 24, time.Hour)

	agg := elastic.NewDateHistogramAggregation().
		Field(query.TimestampField).
		FixedInterval("1h").
		MinDocCount(0).
		ExtendedBounds(start.Format(time.RFC3339), now.Format(time.RFC3339))

	q := query.Scoped(connector, query.TimeRange(start, now))

	res, err := e.store.Aggregate(ctx, logstore.IndexWildcard, q, aggPerHour, agg)
	if err != nil {
		e.log.Error().Err(err).Msg("24h histogram query failed")
		return fillSeries(starts, nil), err
	}

	return fillSeries(starts, histogramCounts(res, aggPerHour)), nil
}

// HitsPerCountry returns the hit count per country over the trailing 30 days.
// Country code and name live in different fields, so the name is recovered
// through a one-level nested terms aggregation.
func (e *Engine) HitsPerCountry(ctx context.Context, connector string) ([]model.CountryHits, error) {
	now := e.now().UTC().Truncate(time.Second)
	from := dayStart(now.AddDate(0, 0, -30))

	sub := elastic.NewTermsAggregation().Field(query.CountryNameField)
	agg := elastic.NewTermsAggregation().
		Field(query.CountryField).
		SubAggregation(aggCountryName, sub)

	q := query.Scoped(connector, query.TimeRange(from, now))

	hits := []model.CountryHits{}
	res, err := e.store.Aggregate(ctx, logstore.IndexWildcard, q, aggPerCountry, agg)
	if err != nil {
		e.log.Error().Err(err).Msg("per-country aggregation failed")
		return hits, err
	}

	terms, ok := res.Aggregations.Terms(aggPerCountry)
	if !ok {
		return hits, nil
	}
	for _, b := range terms.Buckets {
		code, _ := b.Key.(string)
		names, ok := b.Terms(aggCountryName)
		if !ok {
			continue
		}
		for _, nb := range names.Buckets {
			name, _ := nb.Key.(string)
			hits = append(hits, model.CountryHits{
				CountryISO:  code,
				CountryName: name,
				Hits:        b.DocCount,
			})
		}
	}
	return hits, nil
}

// RecentBytesSent returns the total bytes sent per day over the trailing
// three days, zero-filled.
func (e *Engine) RecentBytesSent(ctx context.Context, connector string) (model.TimeSeries, error) {
	now := e.now().UTC().Truncate(time.Second)
	start := dayStart(now).AddDate(0, 0, -2)

	starts := bucketStarts(start, 3, 24*time.Hour)

	sub := elastic.NewSumAggregation().Field(query.BytesField)
	agg := elastic.NewDateHistogramAggregation().
		Field(query.TimestampField).
		FixedInterval("1d").
		MinDocCount(0).
		ExtendedBounds(start.Format(time.RFC3339), now.Format(time.RFC3339)).
		SubAggregation(aggSumBytes, sub)

	q := query.Scoped(connector, query.TimeRange(start, now))

	res, err := e.store.Aggregate(ctx, logstore.IndexWildcard, q, aggPerDay, agg)
	if err != nil {
		e.log.Error().Err(err).Msg("bytes-sent aggregation failed")
		return fillSeries(starts, nil), err
	}

	byKey := make(map[int64]int64)
	if hist, ok := res.Aggregations.DateHistogram(aggPerDay); ok {
		for _, b := range hist.Buckets {
			if sum, ok := b.Sum(aggSumBytes); ok && sum.Value != nil {
				byKey[int64(b.Key)] = int64(*sum.Value)
			}
		}
	}
	return fillSeries(starts, byKey), nil
}

// RecentResponseCodes returns a stacked series of response-code counts per
// day over the trailing three days. Every day bucket starts with a zero-count
// point carrying a nil code name so the day shows up in charts even when no
// response-code sub-bucket exists for it.
func (e *Engine) RecentResponseCodes(ctx context.Context, connector string) ([]model.StackedPoint, error) {
	now := e.now().UTC().Truncate(time.Second)
	start := dayStart(now).AddDate(0, 0, -2)

	starts := bucketStarts(start, 3, 24*time.Hour)

	sub := elastic.NewTermsAggregation().Field(query.ResponseField)
	agg := elastic.NewDateHistogramAggregation().
		Field(query.TimestampField).
		FixedInterval("1d").
		MinDocCount(0).
		ExtendedBounds(start.Format(time.RFC3339), now.Format(time.RFC3339)).
		SubAggregation(aggResponseCodes, sub)

	q := query.Scoped(connector, query.TimeRange(start, now))

	points := []model.StackedPoint{}
	res, err := e.store.Aggregate(ctx, logstore.IndexWildcard, q, aggPerDay, agg)
	if err != nil {
		e.log.Error().Err(err).Msg("response-code aggregation failed")
		for _, day := range starts {
			points = append(points, model.StackedPoint{Category: timefmt.Format(day)})
		}
		return points, err
	}

	byKey := make(map[int64]*elastic.AggregationBucketHistogramItem)
	if hist, ok := res.Aggregations.DateHistogram(aggPerDay); ok {
		for _, b := range hist.Buckets {
			byKey[int64(b.Key)] = b
		}
	}

	for _, day := range starts {
		label := timefmt.Format(day)
		points = append(points, model.StackedPoint{Category: label})

		b, ok := byKey[day.UnixMilli()]
		if !ok {
			continue
		}
		codes, ok := b.Terms(aggResponseCodes)
		if !ok {
			continue
		}
		for _, cb := range codes.Buckets {
			code, _ := cb.Key.(string)
			name := code
			points = append(points, model.StackedPoint{
				Category: label,
				Name:     &name,
				Value:    cb.DocCount,
			})
		}
	}
	return points, nil
}

// Connectors returns the distinct connector ids observed in the log store.
func (e *Engine) Connectors(ctx context.Context) ([]string, error) {
	agg := elastic.NewTermsAggregation().Field(query.ConnectorField).Size(1000)

	connectors := []string{}
	res, err := e.store.Aggregate(ctx, logstore.IndexWildcard, query.Scoped(""), aggPerConnector, agg)
	if err != nil {
		e.log.Error().Err(err).Msg("connector discovery failed")
		return connectors, err
	}

	terms, ok := res.Aggregations.Terms(aggPerConnector)
	if !ok {
		return connectors, nil
	}
	for _, b := range terms.Buckets {
		if id, ok := b.Key.(string); ok {
			connectors = append(connectors, id)
		}
	}
	return connectors, nil
}

// HealthCheck returns the last-seen timestamp per connector, in epoch millis.
func (e *Engine) HealthCheck(ctx context.Context) ([]model.HealthCheck, error) {
	sub := elastic.NewMaxAggregation().Field(query.TimestampField)
	agg := elastic.NewTermsAggregation().
		Field(query.ConnectorField).
		Size(1000).
		SubAggregation(aggLatestStamp, sub)

	results := []model.HealthCheck{}
	res, err := e.store.Aggregate(ctx, logstore.IndexWildcard, query.Scoped(""), aggPerConnector, agg)
	if err != nil {
		e.log.Error().Err(err).Msg("health check aggregation failed")
		return results, err
	}

	terms, ok := res.Aggregations.Terms(aggPerConnector)
	if !ok {
		return results, nil
	}
	for _, b := range terms.Buckets {
		id, _ := b.Key.(string)
		latest, ok := b.Max(aggLatestStamp)
		if !ok || latest.Value == nil {
			continue
		}
		results = append(results, model.HealthCheck{
			Connector: id,
			Timestamp: int64(*latest.Value),
		})
	}
	return results, nil
}

// advancedFilteringFields is the source projection whitelist for advanced
// filtering; everything else on the record stays in the store.
var advancedFilteringFields = []string{
	"@timestamp",
	"headers.x_forwarded_for",
	"verb",
	"request",
	"headers.content_length",
	"response",
	"bytes",
	"client_geoip.ip",
	"user_agent.os",
	"user_agent.name",
	"client_geoip.country_code2",
	"client_geoip.city_name",
}

// txSource mirrors the projected record layout in the store.
type txSource struct {
	Timestamp string `json:"@timestamp"`
	Verb      string `json:"verb"`
	Request   string `json:"request"`
	Response  string `json:"response"`
	Bytes     string `json:"bytes"`
	Headers   struct {
		XForwardedFor string `json:"x_forwarded_for"`
		ContentLength string `json:"content_length"`
	} `json:"headers"`
	UserAgent struct {
		OS   string `json:"os"`
		Name string `json:"name"`
	} `json:"user_agent"`
	ClientGeoIP struct {
		IP           string `json:"ip"`
		CountryCode2 string `json:"country_code2"`
		CityName     string `json:"city_name"`
	} `json:"client_geoip"`
}

// AdvancedFiltering returns raw records matching the filter, capped at the
// engine page size. Records missing the header/user-agent/geo enrichment are
// excluded; a malformed filter fails the operation.
func (e *Engine) AdvancedFiltering(ctx context.Context, f query.Filter) ([]model.TransactionRecord, error) {
	f.RequireEnrichment = true
	q, err := f.Build()
	if err != nil {
		return nil, err
	}

	records := []model.TransactionRecord{}
	res, err := e.store.Search(ctx, logstore.IndexWildcard, q, advancedFilteringFields, logstore.MaxPageSize)
	if err != nil {
		e.log.Error().Err(err).Msg("advanced filtering search failed")
		return records, err
	}

	for _, hit := range res.Hits.Hits {
		var src txSource
		if err := json.Unmarshal(hit.Source, &src); err != nil {
			e.log.Error().Err(err).Str("id", hit.Id).Msg("could not decode record")
			continue
		}
		stamp, err := timefmt.Reformat(src.Timestamp)
		if err != nil {
			e.log.Error().Str("timestamp", src.Timestamp).Msg("could not parse record timestamp, dropping record")
			continue
		}
		records = append(records, model.TransactionRecord{
			Timestamp:     stamp,
			Connector:     src.Headers.XForwardedFor,
			RequestMethod: src.Verb,
			Path:          src.Request,
			ContentLength: src.Headers.ContentLength,
			ResponseCode:  src.Response,
			BytesSent:     src.Bytes,
			ClientIP:      src.ClientGeoIP.IP,
			OS:            src.UserAgent.OS,
			Browser:       src.UserAgent.Name,
			CountryCode:   src.ClientGeoIP.CountryCode2,
			CityName:      src.ClientGeoIP.CityName,
		})
	}
	return records, nil
}

// bucketStarts returns n interval starts beginning at start.
func bucketStarts(start time.Time, n int, step time.Duration) []time.Time {
	starts := make([]time.Time, n)
	for i := range starts {
		starts[i] = start.Add(time.Duration(i) * step)
	}
	return starts
}

// fillSeries materializes one point per expected bucket, zero when the store
// returned nothing for it. Consumers always get a fixed-cardinality series.
func fillSeries(starts []time.Time, byKey map[int64]int64) model.TimeSeries {
	labels := make([]string, len(starts))
	values := make([]int64, len(starts))
	for i, t := range starts {
		labels[i] = timefmt.Format(t)
		values[i] = byKey[t.UnixMilli()]
	}
	return model.TimeSeries{XAxis: labels, YAxis: values}
}

// histogramCounts extracts doc counts keyed by bucket epoch millis.
func histogramCounts(res *elastic.SearchResult, name string) map[int64]int64 {
	byKey := make(map[int64]int64)
	hist, ok := res.Aggregations.DateHistogram(name)
	if !ok {
		return byKey
	}
	for _, b := range hist.Buckets {
		byKey[int64(b.Key)] = b.DocCount
	}
	return byKey
}

// dayStart truncates t to midnight UTC.
func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

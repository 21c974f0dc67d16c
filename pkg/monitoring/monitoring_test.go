package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/kumarabd/gokit/logger"
	"github.com/olivere/elastic/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netwatch/analytics-core/pkg/model"
	"github.com/netwatch/analytics-core/pkg/query"
)

type fakeStore struct {
	counts map[string]int64
	agg    *elastic.SearchResult
	search *elastic.SearchResult
	err    error

	countIndices []string
	lastQuery    elastic.Query
	lastAggName  string
}

func (f *fakeStore) Count(ctx context.Context, index string, q elastic.Query) (int64, error) {
	f.countIndices = append(f.countIndices, index)
	f.lastQuery = q
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[index], nil
}

func (f *fakeStore) Aggregate(ctx context.Context, index string, q elastic.Query, name string, agg elastic.Aggregation) (*elastic.SearchResult, error) {
	f.lastQuery = q
	f.lastAggName = name
	if f.err != nil {
		return nil, f.err
	}
	return f.agg, nil
}

func (f *fakeStore) Search(ctx context.Context, index string, q elastic.Query, fields []string, size int) (*elastic.SearchResult, error) {
	f.lastQuery = q
	if f.err != nil {
		return nil, f.err
	}
	return f.search, nil
}

func newTestEngine(t *testing.T, store LogStore, now time.Time) *Engine {
	t.Helper()
	log, err := logger.New("test", logger.Options{Format: logger.JSONLogFormat})
	require.NoError(t, err)
	e := New(store, log)
	e.now = func() time.Time { return now }
	return e
}

func aggResult(name, body string) *elastic.SearchResult {
	return &elastic.SearchResult{
		Aggregations: elastic.Aggregations{name: json.RawMessage(body)},
	}
}

func querySource(t *testing.T, q elastic.Query) string {
	t.Helper()
	src, err := q.Source()
	require.NoError(t, err)
	data, err := json.Marshal(src)
	require.NoError(t, err)
	return string(data)
}

func TestQueryLastMonthSpansThirtyDays(t *testing.T) {
	now := time.Date(2023, 6, 15, 10, 30, 45, 0, time.UTC)
	store := &fakeStore{counts: map[string]int64{
		"connectors-2023.06.01": 5,
		"connectors-2023.06.15": 42,
	}}
	e := newTestEngine(t, store, now)

	series, err := e.QueryLastMonth(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, series.XAxis, 30)
	require.Len(t, series.YAxis, 30)
	assert.Len(t, store.countIndices, 30)

	assert.Equal(t, "2023.06.01", series.XAxis[0])
	assert.Equal(t, "2023.06.30", series.XAxis[29])
	assert.Equal(t, int64(5), series.YAxis[0])
	assert.Equal(t, int64(42), series.YAxis[14])
	// Days without an index count as zero.
	assert.Equal(t, int64(0), series.YAxis[1])
}

func TestQueryLastMonthConnectorScope(t *testing.T) {
	now := time.Date(2023, 6, 15, 10, 30, 45, 0, time.UTC)
	store := &fakeStore{counts: map[string]int64{}}
	e := newTestEngine(t, store, now)

	_, err := e.QueryLastMonth(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Contains(t, querySource(t, store.lastQuery), `"headers.x_forwarded_for.keyword":"conn-1"`)
}

func TestQuery24HourCountsFixedCardinality(t *testing.T) {
	now := time.Date(2023, 6, 15, 10, 30, 45, 0, time.UTC)
	start := time.Date(2023, 6, 14, 11, 0, 0, 0, time.UTC)

	buckets := fmt.Sprintf(`{"buckets":[
		{"key":%d,"key_as_string":"2023-06-14T11:00:00.000Z","doc_count":7},
		{"key":%d,"key_as_string":"2023-06-15T10:00:00.000Z","doc_count":3}
	]}`, start.UnixMilli(), start.Add(23*time.Hour).UnixMilli())

	store := &fakeStore{agg: aggResult("query_per_hour", buckets)}
	e := newTestEngine(t, store, now)

	series, err := e.Query24HourCounts(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, series.XAxis, 24)
	require.Len(t, series.YAxis, 24)
	assert.Equal(t, "2023-06-14 11:00:00", series.XAxis[0])
	assert.Equal(t, "2023-06-15 10:00:00", series.XAxis[23])
	assert.Equal(t, int64(7), series.YAxis[0])
	assert.Equal(t, int64(3), series.YAxis[23])
	for i := 1; i < 23; i++ {
		assert.Equal(t, int64(0), series.YAxis[i], "bucket %d should be zero-filled", i)
	}
}

func TestQuery24HourCountsEmptyWindow(t *testing.T) {
	now := time.Date(2023, 6, 15, 10, 30, 45, 0, time.UTC)
	store := &fakeStore{agg: aggResult("query_per_hour", `{"buckets":[]}`)}
	e := newTestEngine(t, store, now)

	series, err := e.Query24HourCounts(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, series.XAxis, 24)
	for _, v := range series.YAxis {
		assert.Equal(t, int64(0), v)
	}
}

func TestQuery24HourCountsDegradesOnFailure(t *testing.T) {
	now := time.Date(2023, 6, 15, 10, 30, 45, 0, time.UTC)
	store := &fakeStore{err: fmt.Errorf("cluster unreachable")}
	e := newTestEngine(t, store, now)

	series, err := e.Query24HourCounts(context.Background(), "")
	require.Error(t, err)

	// A blank chart is still a complete chart.
	require.Len(t, series.XAxis, 24)
	for _, v := range series.YAxis {
		assert.Equal(t, int64(0), v)
	}
}

func TestHitsPerCountry(t *testing.T) {
	now := time.Date(2023, 6, 15, 10, 30, 45, 0, time.UTC)
	body := `{"buckets":[
		{"key":"US","doc_count":120,"get_country_name":{"buckets":[{"key":"United States","doc_count":120}]}},
		{"key":"GR","doc_count":33,"get_country_name":{"buckets":[{"key":"Greece","doc_count":33}]}}
	]}`
	store := &fakeStore{agg: aggResult("hits_per_country", body)}
	e := newTestEngine(t, store, now)

	hits, err := e.HitsPerCountry(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, hits, 2)
	assert.Equal(t, model.CountryHits{CountryISO: "US", CountryName: "United States", Hits: 120}, hits[0])
	assert.Equal(t, model.CountryHits{CountryISO: "GR", CountryName: "Greece", Hits: 33}, hits[1])
}

func TestRecentBytesSentZeroFills(t *testing.T) {
	now := time.Date(2023, 6, 15, 10, 30, 45, 0, time.UTC)
	middle := time.Date(2023, 6, 14, 0, 0, 0, 0, time.UTC)

	body := fmt.Sprintf(`{"buckets":[
		{"key":%d,"key_as_string":"2023-06-14T00:00:00.000Z","doc_count":9,"sum_bytes_sent":{"value":4096}}
	]}`, middle.UnixMilli())
	store := &fakeStore{agg: aggResult("per_day", body)}
	e := newTestEngine(t, store, now)

	series, err := e.RecentBytesSent(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, series.XAxis, 3)
	assert.Equal(t, "2023-06-13 00:00:00", series.XAxis[0])
	assert.Equal(t, "2023-06-14 00:00:00", series.XAxis[1])
	assert.Equal(t, "2023-06-15 00:00:00", series.XAxis[2])
	assert.Equal(t, []int64{0, 4096, 0}, series.YAxis)
}

func TestRecentResponseCodesEmitsDummyPerDay(t *testing.T) {
	now := time.Date(2023, 6, 15, 10, 30, 45, 0, time.UTC)
	day2 := time.Date(2023, 6, 14, 0, 0, 0, 0, time.UTC)

	body := fmt.Sprintf(`{"buckets":[
		{"key":%d,"key_as_string":"2023-06-14T00:00:00.000Z","doc_count":12,
		 "hits_per_response_code":{"buckets":[
			{"key":"200","doc_count":10},
			{"key":"500","doc_count":2}
		]}}
	]}`, day2.UnixMilli())
	store := &fakeStore{agg: aggResult("per_day", body)}
	e := newTestEngine(t, store, now)

	points, err := e.RecentResponseCodes(context.Background(), "")
	require.NoError(t, err)

	// Three dummy points plus two real sub-buckets.
	require.Len(t, points, 5)

	assert.Equal(t, "2023-06-13 00:00:00", points[0].Category)
	assert.Nil(t, points[0].Name)
	assert.Equal(t, int64(0), points[0].Value)

	assert.Equal(t, "2023-06-14 00:00:00", points[1].Category)
	assert.Nil(t, points[1].Name)

	require.NotNil(t, points[2].Name)
	assert.Equal(t, "200", *points[2].Name)
	assert.Equal(t, int64(10), points[2].Value)
	require.NotNil(t, points[3].Name)
	assert.Equal(t, "500", *points[3].Name)

	assert.Equal(t, "2023-06-15 00:00:00", points[4].Category)
	assert.Nil(t, points[4].Name)
}

func TestConnectors(t *testing.T) {
	now := time.Date(2023, 6, 15, 10, 30, 45, 0, time.UTC)
	body := `{"buckets":[
		{"key":"conn-1","doc_count":100},
		{"key":"conn-2","doc_count":50}
	]}`
	store := &fakeStore{agg: aggResult("per_connector", body)}
	e := newTestEngine(t, store, now)

	connectors, err := e.Connectors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"conn-1", "conn-2"}, connectors)
}

func TestHealthCheck(t *testing.T) {
	now := time.Date(2023, 6, 15, 10, 30, 45, 0, time.UTC)
	body := `{"buckets":[
		{"key":"conn-1","doc_count":100,"latest_timestamp":{"value":1686822645000}},
		{"key":"conn-2","doc_count":50,"latest_timestamp":{"value":1686736245000}}
	]}`
	store := &fakeStore{agg: aggResult("per_connector", body)}
	e := newTestEngine(t, store, now)

	results, err := e.HealthCheck(context.Background())
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, model.HealthCheck{Connector: "conn-1", Timestamp: 1686822645000}, results[0])
	assert.Equal(t, model.HealthCheck{Connector: "conn-2", Timestamp: 1686736245000}, results[1])
}

func searchHit(id, source string) *elastic.SearchHit {
	return &elastic.SearchHit{Id: id, Source: json.RawMessage(source)}
}

func TestAdvancedFiltering(t *testing.T) {
	now := time.Date(2023, 6, 15, 10, 30, 45, 0, time.UTC)
	store := &fakeStore{search: &elastic.SearchResult{
		Hits: &elastic.SearchHits{Hits: []*elastic.SearchHit{
			searchHit("1", `{
				"@timestamp":"2023-06-15T08:00:00.123Z",
				"verb":"GET","request":"/api/data","response":"200","bytes":"512",
				"headers":{"x_forwarded_for":"conn-1","content_length":"512"},
				"user_agent":{"os":"Linux","name":"Firefox"},
				"client_geoip":{"ip":"10.0.0.1","country_code2":"US","city_name":"Boston"}
			}`),
			searchHit("2", `{
				"@timestamp":"garbage",
				"verb":"POST","request":"/api/data","response":"500","bytes":"0",
				"headers":{"x_forwarded_for":"conn-1"},
				"user_agent":{},
				"client_geoip":{}
			}`),
		}},
	}}
	e := newTestEngine(t, store, now)

	records, err := e.AdvancedFiltering(context.Background(), query.Filter{
		Connector:     "conn-1",
		ResponseCodes: []string{"200", "500"},
	})
	require.NoError(t, err)

	// The record with the unparsable timestamp is dropped, not passed through.
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "2023-06-15 08:00:00", rec.Timestamp)
	assert.Equal(t, "conn-1", rec.Connector)
	assert.Equal(t, "GET", rec.RequestMethod)
	assert.Equal(t, "/api/data", rec.Path)
	assert.Equal(t, "200", rec.ResponseCode)
	assert.Equal(t, "10.0.0.1", rec.ClientIP)
	assert.Equal(t, "Firefox", rec.Browser)

	// Enrichment is always required on this path.
	assert.Contains(t, querySource(t, store.lastQuery), `"exists":{"field":"client_geoip"}`)
}

func TestAdvancedFilteringMalformedInput(t *testing.T) {
	now := time.Date(2023, 6, 15, 10, 30, 45, 0, time.UTC)
	store := &fakeStore{}
	e := newTestEngine(t, store, now)

	_, err := e.AdvancedFiltering(context.Background(), query.Filter{BytesSentMin: "lots"})
	require.Error(t, err)
	assert.ErrorIs(t, err, query.ErrBadInput)
	assert.Nil(t, store.lastQuery)
}

package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kumarabd/gokit/logger"
	"github.com/olivere/elastic/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netwatch/analytics-core/pkg/model"
)

func newTestLogger(t *testing.T) *logger.Handler {
	t.Helper()
	log, err := logger.New("test", logger.Options{Format: logger.JSONLogFormat})
	require.NoError(t, err)
	return log
}

func TestPredictions(t *testing.T) {
	var gotMinutes string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMinutes = r.Header.Get("minutes")
		assert.Equal(t, predictionsPath, r.URL.Path)
		fmt.Fprint(w, `[{"ip":["10.0.0.1","10.0.0.2"],"ip_status":[-1.5,0.3]}]`)
	}))
	defer srv.Close()

	c := NewClient(&Config{URL: srv.URL, Timeout: 5 * time.Second}, newTestLogger(t), nil)

	slots, err := c.Predictions(context.Background(), 60)
	require.NoError(t, err)
	assert.Equal(t, "60", gotMinutes)
	require.Len(t, slots, 1)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, slots[0].IPs)
	assert.Equal(t, []float64{-1.5, 0.3}, slots[0].Statuses)
}

func TestPredictionsNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(&Config{URL: srv.URL, Timeout: 5 * time.Second}, newTestLogger(t), nil)

	_, err := c.Predictions(context.Background(), 60)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(&Config{URL: srv.URL, Timeout: 5 * time.Second}, newTestLogger(t), nil)

	for i := 0; i < 5; i++ {
		_, err := c.Predictions(context.Background(), 60)
		require.Error(t, err)
	}
	assert.True(t, c.breaker.Open())

	_, err := c.Predictions(context.Background(), 60)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
}

func TestAbnormalIPs(t *testing.T) {
	slots := []model.AnomalySlot{
		{IPs: []string{"1.1.1.1", "2.2.2.2"}, Statuses: []float64{-0.2, 1.0}},
		{IPs: []string{"3.3.3.3"}, Statuses: []float64{-3.1}},
		{IPs: []string{"4.4.4.4"}, Statuses: []float64{}}, // length mismatch tolerated
	}
	assert.Equal(t, []string{"1.1.1.1", "3.3.3.3"}, AbnormalIPs(slots))
}

type fakeOracle struct {
	slots []model.AnomalySlot
	err   error
	calls int
}

func (f *fakeOracle) Predictions(ctx context.Context, minutes int) ([]model.AnomalySlot, error) {
	f.calls++
	return f.slots, f.err
}

type fakeStore struct {
	result *elastic.SearchResult
	err    error
	called bool
}

func (f *fakeStore) Aggregate(ctx context.Context, index string, q elastic.Query, name string, agg elastic.Aggregation) (*elastic.SearchResult, error) {
	f.called = true
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func termsResult(name, body string) *elastic.SearchResult {
	return &elastic.SearchResult{Aggregations: elastic.Aggregations{name: json.RawMessage(body)}}
}

func TestAnomalyResultsWithoutConnector(t *testing.T) {
	oracle := &fakeOracle{slots: []model.AnomalySlot{{IPs: []string{"1.1.1.1"}, Statuses: []float64{-1}}}}
	store := &fakeStore{}
	s := NewService(oracle, store, newTestLogger(t))

	slots, err := s.AnomalyResults(context.Background(), "", 60)
	require.NoError(t, err)
	assert.Equal(t, oracle.slots, slots)
	assert.False(t, store.called, "no connector means no log store join")
}

func TestAnomalyResultsScopedToConnector(t *testing.T) {
	oracle := &fakeOracle{slots: []model.AnomalySlot{
		{IPs: []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}, Statuses: []float64{-1, 0.5, -2}},
	}}
	store := &fakeStore{result: termsResult("get_ip", `{"buckets":[
		{"key":"1.1.1.1","doc_count":4},
		{"key":"3.3.3.3","doc_count":1}
	]}`)}
	s := NewService(oracle, store, newTestLogger(t))

	slots, err := s.AnomalyResults(context.Background(), "conn-1", 60)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, []string{"1.1.1.1", "3.3.3.3"}, slots[0].IPs)
	assert.Equal(t, []float64{-1, -2}, slots[0].Statuses)
}

func TestAnomalyResultsOracleFailureIsHard(t *testing.T) {
	oracle := &fakeOracle{err: fmt.Errorf("connection refused")}
	s := NewService(oracle, &fakeStore{}, newTestLogger(t))

	_, err := s.AnomalyResults(context.Background(), "conn-1", 60)
	require.Error(t, err)
}

func TestSecurityReport(t *testing.T) {
	oracle := &fakeOracle{slots: []model.AnomalySlot{
		{IPs: []string{"1.1.1.1", "2.2.2.2"}, Statuses: []float64{-1, 0.5}},
	}}
	store := &fakeStore{result: termsResult("hits_per_ip", `{"buckets":[
		{"key":"1.1.1.1","doc_count":17,
		 "country_code_of_ip":{"buckets":[{"key":"US","doc_count":17}]},
		 "errors_per_ip":{"doc_count":4}}
	]}`)}
	s := NewService(oracle, store, newTestLogger(t))

	entries, err := s.SecurityReport(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.SecurityReportEntry{IP: "1.1.1.1", CountryCode: "US", Hits: 17, Errors: 4}, entries[0])
}

func TestSecurityReportNoAbnormalIPs(t *testing.T) {
	oracle := &fakeOracle{slots: []model.AnomalySlot{
		{IPs: []string{"2.2.2.2"}, Statuses: []float64{0.5}},
	}}
	store := &fakeStore{}
	s := NewService(oracle, store, newTestLogger(t))

	entries, err := s.SecurityReport(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.False(t, store.called)
}

func TestSecurityReportDegradesOnStoreFailure(t *testing.T) {
	oracle := &fakeOracle{slots: []model.AnomalySlot{
		{IPs: []string{"1.1.1.1"}, Statuses: []float64{-1}},
	}}
	store := &fakeStore{err: fmt.Errorf("cluster unreachable")}
	s := NewService(oracle, store, newTestLogger(t))

	entries, err := s.SecurityReport(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// Package query translates high-level filter intents into the log store's
// native query representation. Construction is pure: the same inputs always
// produce a structurally identical query tree.
package query

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/olivere/elastic/v7"
)

// Log record field names as indexed by the log pipeline.
const (
	TimestampField   = "@timestamp"
	ConnectorField   = "headers.x_forwarded_for.keyword"
	ClientIPField    = "client_geoip.ip.keyword"
	MethodField      = "verb.keyword"
	ResponseField    = "response.keyword"
	ResponseNumField = "response"
	CountryField     = "client_geoip.country_code2.keyword"
	CountryNameField = "client_geoip.country_name.keyword"
	BytesField       = "bytes"
)

// ErrBadInput marks filter criteria that cannot be parsed. Callers should map
// it to a client error rather than a degraded result.
var ErrBadInput = errors.New("malformed filter input")

// Scoped returns a bool query containing the given clauses, narrowed to one
// connector when connector is non-empty. With no clauses and no connector the
// result matches all records.
func Scoped(connector string, musts ...elastic.Query) *elastic.BoolQuery {
	q := elastic.NewBoolQuery()
	for _, m := range musts {
		q.Must(m)
	}
	if connector != "" {
		q.Must(elastic.NewTermQuery(ConnectorField, connector))
	}
	return q
}

// TimeRange returns a closed range query on the record timestamp.
func TimeRange(from, to time.Time) *elastic.RangeQuery {
	return elastic.NewRangeQuery(TimestampField).
		Gte(from.UTC().Format(time.RFC3339)).
		Lte(to.UTC().Format(time.RFC3339))
}

// Filter is an immutable conjunction of optional predicates over log records.
// Zero values and empty sets are no-ops; predicates are ANDed across
// categories, set membership is an OR within a category.
type Filter struct {
	Connector      string   `json:"connector"`
	DateFrom       string   `json:"dateFrom"`
	DateTo         string   `json:"dateTo"`
	BytesSentMin   string   `json:"bytesSentMin"`
	BytesSentMax   string   `json:"bytesSentMax"`
	ClientIPs      []string `json:"clientIPs"`
	RequestMethods []string `json:"requestMethods"`
	ResponseCodes  []string `json:"responseCodes"`
	Countries      []string `json:"countries"`

	// RequireEnrichment excludes records missing the header, user-agent and
	// geo enrichment objects.
	RequireEnrichment bool `json:"-"`
}

// Build translates the filter into a bool query. An empty filter matches all
// records; unparseable dates or byte bounds fail the whole build.
func (f Filter) Build() (*elastic.BoolQuery, error) {
	q := elastic.NewBoolQuery()

	if f.Connector != "" {
		q.Must(elastic.NewTermQuery(ConnectorField, f.Connector))
	}

	if f.DateFrom != "" || f.DateTo != "" {
		rq := elastic.NewRangeQuery(TimestampField)
		if f.DateFrom != "" {
			from, err := time.Parse(time.RFC3339, f.DateFrom)
			if err != nil {
				return nil, fmt.Errorf("%w: dateFrom %q", ErrBadInput, f.DateFrom)
			}
			rq.Gte(from.UTC().Format(time.RFC3339))
		}
		if f.DateTo != "" {
			to, err := time.Parse(time.RFC3339, f.DateTo)
			if err != nil {
				return nil, fmt.Errorf("%w: dateTo %q", ErrBadInput, f.DateTo)
			}
			rq.Lte(to.UTC().Format(time.RFC3339))
		}
		q.Must(rq)
	}

	if f.BytesSentMin != "" || f.BytesSentMax != "" {
		rq := elastic.NewRangeQuery(BytesField)
		if f.BytesSentMin != "" {
			min, err := strconv.Atoi(f.BytesSentMin)
			if err != nil {
				return nil, fmt.Errorf("%w: bytesSentMin %q", ErrBadInput, f.BytesSentMin)
			}
			rq.Gte(min)
		}
		if f.BytesSentMax != "" {
			max, err := strconv.Atoi(f.BytesSentMax)
			if err != nil {
				return nil, fmt.Errorf("%w: bytesSentMax %q", ErrBadInput, f.BytesSentMax)
			}
			rq.Lte(max)
		}
		q.Must(rq)
	}

	if len(f.ClientIPs) > 0 {
		q.Must(Terms(ClientIPField, f.ClientIPs))
	}
	if len(f.RequestMethods) > 0 {
		q.Must(Terms(MethodField, f.RequestMethods))
	}
	if len(f.ResponseCodes) > 0 {
		q.Must(Terms(ResponseField, f.ResponseCodes))
	}
	if len(f.Countries) > 0 {
		q.Must(Terms(CountryField, f.Countries))
	}

	if f.RequireEnrichment {
		q.Must(elastic.NewExistsQuery("headers")).
			Must(elastic.NewExistsQuery("user_agent")).
			Must(elastic.NewExistsQuery("client_geoip"))
	}

	return q, nil
}

// Terms returns a terms query matching any of the given values.
func Terms(field string, values []string) *elastic.TermsQuery {
	vals := make([]interface{}, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return elastic.NewTermsQuery(field, vals...)
}

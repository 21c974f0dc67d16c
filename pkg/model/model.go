package model

// TimeSeries carries chart-ready parallel arrays: one label and one value per
// time bucket, chronologically ordered.
type TimeSeries struct {
	XAxis []string `json:"xaxis"`
	YAxis []int64  `json:"yaxis"`
}

// CountryHits is the hit count for one country over the query window.
type CountryHits struct {
	CountryISO  string `json:"countryIso"`
	CountryName string `json:"countryName"`
	Hits        int64  `json:"hitsCount"`
}

// StackedPoint is one entry of a stacked chart series. A nil Name marks the
// per-day placeholder point that keeps the day visible even when no
// sub-bucket exists for it.
type StackedPoint struct {
	Category string  `json:"category"`
	Name     *string `json:"name"`
	Value    int64   `json:"dataPoint"`
}

// HealthCheck is the last-seen timestamp for one connector.
type HealthCheck struct {
	Connector string `json:"connector"`
	Timestamp int64  `json:"timestamp"`
}

// TransactionRecord is a single log record with only the whitelisted fields
// populated, as returned by advanced filtering.
type TransactionRecord struct {
	Timestamp     string `json:"timestamp"`
	Connector     string `json:"connector"`
	RequestMethod string `json:"requestMethod"`
	Path          string `json:"path"`
	ContentLength string `json:"contentLength"`
	ResponseCode  string `json:"responseCode"`
	BytesSent     string `json:"bytesSent"`
	ClientIP      string `json:"clientIP"`
	OS            string `json:"os"`
	Browser       string `json:"browser"`
	CountryCode   string `json:"countryCode"`
	CityName      string `json:"cityName"`
}

// AnomalySlot is one time slot of oracle predictions. IPs and Statuses are
// parallel arrays; a negative status marks the IP as abnormal.
type AnomalySlot struct {
	IPs      []string  `json:"ip"`
	Statuses []float64 `json:"ip_status"`
}

// SecurityReportEntry summarizes log-store activity for one abnormal IP.
type SecurityReportEntry struct {
	IP          string `json:"ip"`
	CountryCode string `json:"countryCode"`
	Hits        int64  `json:"hitsCount"`
	Errors      int64  `json:"errorsCount"`
}

// AbnormalIPAlert is the payload pushed on the alert live feed.
type AbnormalIPAlert struct {
	AbnormalIPs []string `json:"abnormalIps"`
}

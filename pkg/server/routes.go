package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/netwatch/analytics-core/pkg/query"
)

// setupRoutes adds the monitoring, analytics and alert routes
func (s *HTTP) setupRoutes() {
	api := s.handler.Group("/api/v1")
	api.Use(s.rateLimitMiddleware())

	network := api.Group("/monitoring/network")
	network.GET("/http-monthly", s.monthlyHandler)
	network.GET("/http-monthly/:connector", s.monthlyHandler)
	network.GET("/http-hourly", s.hourlyHandler)
	network.GET("/http-hourly/:connector", s.hourlyHandler)
	network.GET("/http-monthly-per-country", s.countryHandler)
	network.GET("/http-monthly-per-country/:connector", s.countryHandler)
	network.GET("/http-bytes-sent", s.bytesSentHandler)
	network.GET("/http-bytes-sent/:connector", s.bytesSentHandler)
	network.GET("/http-response-codes", s.responseCodesHandler)
	network.GET("/http-response-codes/:connector", s.responseCodesHandler)
	network.GET("/connectors", s.connectorsHandler)
	network.GET("/connectors-health-check", s.healthCheckHandler)
	network.POST("/advanced-filtering", s.advancedFilteringHandler)
	network.GET("/http-transactions-sse-periodic", s.hourlyFeedHandler)

	api.GET("/alerts/latest-alert-sse", s.alertFeedHandler)

	analyticsGroup := api.Group("/analytics")
	analyticsGroup.GET("/anomaly-results", s.anomalyResultsHandler)
	analyticsGroup.GET("/security-report", s.securityReportHandler)

	// Health and metrics endpoints
	s.handler.GET("/healthz", s.healthHandler)
	s.handler.GET("/metrics", s.metricsHandler)
}

// Dashboard handlers return the zero-filled series even when the log store
// is degraded; the widgets prefer an empty chart over an error page.

func (s *HTTP) monthlyHandler(c *gin.Context) {
	series, err := s.engine.QueryLastMonth(c.Request.Context(), c.Param("connector"))
	if err != nil {
		s.log.Error().Err(err).Msg("monthly counts degraded")
	}
	c.JSON(http.StatusOK, series)
}

func (s *HTTP) hourlyHandler(c *gin.Context) {
	series, err := s.engine.Query24HourCounts(c.Request.Context(), c.Param("connector"))
	if err != nil {
		s.log.Error().Err(err).Msg("hourly counts degraded")
	}
	c.JSON(http.StatusOK, series)
}

func (s *HTTP) countryHandler(c *gin.Context) {
	hits, err := s.engine.HitsPerCountry(c.Request.Context(), c.Param("connector"))
	if err != nil {
		s.log.Error().Err(err).Msg("country hits degraded")
	}
	c.JSON(http.StatusOK, hits)
}

func (s *HTTP) bytesSentHandler(c *gin.Context) {
	series, err := s.engine.RecentBytesSent(c.Request.Context(), c.Param("connector"))
	if err != nil {
		s.log.Error().Err(err).Msg("bytes sent degraded")
	}
	c.JSON(http.StatusOK, series)
}

func (s *HTTP) responseCodesHandler(c *gin.Context) {
	points, err := s.engine.RecentResponseCodes(c.Request.Context(), c.Param("connector"))
	if err != nil {
		s.log.Error().Err(err).Msg("response codes degraded")
	}
	c.JSON(http.StatusOK, points)
}

func (s *HTTP) connectorsHandler(c *gin.Context) {
	connectors, err := s.engine.Connectors(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("connector discovery degraded")
	}
	c.JSON(http.StatusOK, connectors)
}

func (s *HTTP) healthCheckHandler(c *gin.Context) {
	checks, err := s.engine.HealthCheck(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("connector health check degraded")
	}
	c.JSON(http.StatusOK, checks)
}

func (s *HTTP) advancedFilteringHandler(c *gin.Context) {
	var f query.Filter
	if err := c.ShouldBindJSON(&f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed filter body"})
		return
	}

	records, err := s.engine.AdvancedFiltering(c.Request.Context(), f)
	if err != nil {
		if errors.Is(err, query.ErrBadInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.log.Error().Err(err).Msg("advanced filtering failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "log store unavailable"})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *HTTP) anomalyResultsHandler(c *gin.Context) {
	minutes := 60
	if raw := c.Query("minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "minutes must be a positive integer"})
			return
		}
		minutes = parsed
	}

	slots, err := s.analytics.AnomalyResults(c.Request.Context(), c.Query("connector"), minutes)
	if err != nil {
		s.log.Error().Err(err).Msg("anomaly results failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "anomaly oracle unavailable"})
		return
	}
	c.JSON(http.StatusOK, slots)
}

func (s *HTTP) securityReportHandler(c *gin.Context) {
	entries, err := s.analytics.SecurityReport(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("security report failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "anomaly oracle unavailable"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

// hourlyFeedHandler streams the 24h histogram to the subscriber at the
// configured feed interval until the client goes away.
func (s *HTTP) hourlyFeedHandler(c *gin.Context) {
	connector := c.Query("connector")
	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		series, err := s.engine.Query24HourCounts(ctx, connector)
		if err != nil {
			s.log.Error().Err(err).Msg("hourly feed degraded")
		}
		c.SSEvent("message", series)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.config.FeedInterval):
			return true
		}
	})
}

// alertFeedHandler streams the latest abnormal-IP alert.
func (s *HTTP) alertFeedHandler(c *gin.Context) {
	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		c.SSEvent("message", s.alerts.Latest(ctx))

		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.config.FeedInterval):
			return true
		}
	})
}

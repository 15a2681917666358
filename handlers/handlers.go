package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"report-filing-bot/models"

	"github.com/apex/log"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "report-filing-bot"

// ReportReader is the read-only part of the record store the HTTP surface uses
type ReportReader interface {
	Ping(ctx context.Context) error
	GetReport(ctx context.Context, id int64) (*models.Report, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	db ReportReader
}

// NewHandlers creates a new handlers instance
func NewHandlers(db ReportReader) *Handlers {
	return &Handlers{db: db}
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Database  string `json:"database"`
	Timestamp string `json:"timestamp"`
}

// HealthCheck returns the service health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Service:   serviceName,
		Database:  "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if err := h.db.Ping(c.Request.Context()); err != nil {
		log.WithError(err).Warn("Health check: database ping failed")
		response.Status = "unhealthy"
		response.Database = "unreachable"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// GetReport returns a report's current status and fields
func (h *Handlers) GetReport(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid report id. Must be a positive integer."})
		return
	}

	report, err := h.db.GetReport(c.Request.Context(), id)
	if err != nil {
		log.WithError(err).WithField("report_id", id).Error("Failed to get report")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve report"})
		return
	}
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
		return
	}

	c.JSON(http.StatusOK, report)
}

// SetupRouter builds the HTTP surface: health, report lookup and Prometheus metrics
func SetupRouter(h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("HTTP request")
	})

	api := router.Group("/api/v1")
	{
		api.GET("/health", h.HealthCheck)
		api.GET("/reports/:id", h.GetReport)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

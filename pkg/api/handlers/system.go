// Package handlers implements the dashboard's read-only HTTP endpoints over
// the shared alert bus: health, alert listing, severity summary, and
// on-demand report rendering. Narrowed from the teacher's system/service
// handlers down to the alert-bus surface this toolkit actually exposes.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hostwatch/hostwatch/pkg/alertbus"
	"github.com/hostwatch/hostwatch/pkg/database"
	"github.com/hostwatch/hostwatch/pkg/report"
)

// DashboardHandler serves the dashboard API.
type DashboardHandler struct {
	bus       *alertbus.Bus
	db        *database.DB
	product   string
	version   string
	startTime time.Time
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(bus *alertbus.Bus, db *database.DB, product, version string) *DashboardHandler {
	return &DashboardHandler{
		bus:       bus,
		db:        db,
		product:   product,
		version:   version,
		startTime: time.Now(),
	}
}

// HealthCheck reports process uptime and database connectivity.
func (h *DashboardHandler) HealthCheck(c *gin.Context) {
	if err := h.db.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "unhealthy",
			"database":  "disconnected",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"database":  "connected",
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ListAlerts returns the bus's priority-grouped alert snapshot, optionally
// filtered to a single severity via ?severity=alta|media|baja.
func (h *DashboardHandler) ListAlerts(c *gin.Context) {
	snapshot := h.bus.Snapshot()

	if want := c.Query("severity"); want != "" {
		filtered := snapshot[:0:0]
		for _, a := range snapshot {
			if severityMatchesQuery(a.Severity.String(), want) {
				filtered = append(filtered, a)
			}
		}
		snapshot = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": snapshot,
		"total":  len(snapshot),
	})
}

func severityMatchesQuery(label, query string) bool {
	switch query {
	case "alta", "high":
		return label == "ALTA"
	case "media", "medium":
		return label == "MEDIA"
	case "baja", "low":
		return label == "BAJA"
	default:
		return false
	}
}

// AlertSummary returns the bus's O(1) severity counters.
func (h *DashboardHandler) AlertSummary(c *gin.Context) {
	total, high, medium, low := h.bus.Summary()
	c.JSON(http.StatusOK, gin.H{
		"total":  total,
		"high":   high,
		"medium": medium,
		"low":    low,
	})
}

// Report renders the current bus state as a report. ?format=html selects
// the HTML backend; any other value (including absent) renders plain text.
func (h *DashboardHandler) Report(c *gin.Context) {
	target := c.DefaultQuery("target", "localhost")
	scope := c.DefaultQuery("scope", "")

	r := report.New(h.product, h.version, target, scope, h.bus, time.Now())

	if c.Query("format") == "html" {
		c.Header("Content-Type", "text/html; charset=utf-8")
		if err := report.RenderHTML(c.Writer, r); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render report"})
		}
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	if err := report.RenderText(c.Writer, r); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render report"})
	}
}

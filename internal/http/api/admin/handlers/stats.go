package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/amirhdaghestani/openai-api/internal/auth"
	"github.com/amirhdaghestani/openai-api/internal/usage"
)

// StatsHandler serves bucketed usage series for dashboards.
type StatsHandler struct {
	db         *gorm.DB
	aggregator *usage.Aggregator
}

// NewStatsHandler constructs a StatsHandler.
func NewStatsHandler(db *gorm.DB) *StatsHandler {
	return &StatsHandler{db: db, aggregator: usage.NewAggregator(db)}
}

// parseWindow reads from/to query parameters; to defaults to now and
// from to 24 hours before to.
func parseWindow(c *gin.Context) (time.Time, time.Time, bool) {
	to := time.Now()
	if toQ := strings.TrimSpace(c.Query("to")); toQ != "" {
		parsed, errParse := time.Parse(time.RFC3339, toQ)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
			return time.Time{}, time.Time{}, false
		}
		to = parsed
	}
	from := to.Add(-24 * time.Hour)
	if fromQ := strings.TrimSpace(c.Query("from")); fromQ != "" {
		parsed, errParse := time.Parse(time.RFC3339, fromQ)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
			return time.Time{}, time.Time{}, false
		}
		from = parsed
	}
	return from, to, true
}

// UserSeries returns the bucketed usage series for one user. Non-admin
// callers may only query themselves. The granularity query parameter is
// optional; when absent it is picked from the window span.
func (h *StatsHandler) UserSeries(c *gin.Context) {
	targetID := c.Param("user_id")
	if errAccess := auth.RequireSelfOrAdmin(caller(c), targetID); errAccess != nil {
		writeAPIError(c, errAccess)
		return
	}
	if _, errLoad := loadUser(c, h.db, targetID); errLoad != nil {
		writeAPIError(c, errLoad)
		return
	}

	from, to, ok := parseWindow(c)
	if !ok {
		return
	}

	var granularity usage.Granularity
	if granularityQ := strings.TrimSpace(c.Query("granularity")); granularityQ != "" {
		parsed, errParse := usage.ParseGranularity(granularityQ)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid granularity"})
			return
		}
		granularity = parsed
	} else {
		picked, errPick := usage.PickGranularity(from, to)
		if errPick != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errPick.Error()})
			return
		}
		granularity = picked
	}

	series, errAggregate := h.aggregator.Aggregate(c.Request.Context(), usage.Query{
		UserID:      targetID,
		Endpoint:    strings.TrimSpace(c.Query("endpoint")),
		From:        from,
		To:          to,
		Granularity: granularity,
	})
	if errAggregate != nil {
		writeAPIError(c, errAggregate)
		return
	}
	c.JSON(http.StatusOK, series)
}

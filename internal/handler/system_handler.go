package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/gradedesk/internal/logger"
	"github.com/stemsi/gradedesk/internal/response"
)

const pingTimeout = 2 * time.Second

// StatsSource reports gradebook counters.
type StatsSource interface {
	Stats() GradebookStats
}

// SystemHandler reports liveness, dependencies and gradebook counters.
type SystemHandler struct {
	rdb       *redis.Client
	stats     StatsSource
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(rdb *redis.Client, stats StatsSource, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:       rdb,
		stats:     stats,
		startTime: time.Now(),
		log:       logger.Component(log, "system_handler"),
	}
}

type healthReport struct {
	Status     string         `json:"status"`
	Uptime     string         `json:"uptime"`
	Goroutines int            `json:"goroutines"`
	GoVersion  string         `json:"go_version"`
	Redis      string         `json:"redis"`
	Gradebook  GradebookStats `json:"gradebook"`
}

// Health godoc
// GET /health
// An unreachable Redis marks the report degraded; the status code stays 200.
func (h *SystemHandler) Health(c *gin.Context) {
	report := healthReport{
		Status:     "ok",
		Uptime:     time.Since(h.startTime).Truncate(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
		Redis:      "disabled",
	}

	if h.rdb != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
		defer cancel()
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			h.log.Warn().Err(err).Msg("Redis ping failed")
			report.Redis = "unreachable"
			report.Status = "degraded"
		} else {
			report.Redis = "ok"
		}
	}
	if h.stats != nil {
		report.Gradebook = h.stats.Stats()
	}

	response.Success(c, http.StatusOK, report)
}

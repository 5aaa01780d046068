package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stemsi/gradedesk/internal/config"
	"github.com/stemsi/gradedesk/internal/handler"
	"github.com/stemsi/gradedesk/internal/middleware"
	"github.com/stemsi/gradedesk/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	WS     *handler.WSHandler
	Grade  *handler.GradeHandler
	System *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(handlers *Handlers, connectLimiter *middleware.RateLimiter, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowCredentials = true
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID", cfg.CSRFHeaderName}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", handlers.System.Health)

	// ─── 1. Grade policy ───────────────────────────────────────────────
	grades := router.Group("/api/v1/grades")
	{
		grades.GET("/policy", handlers.Grade.GetPolicy)
		grades.POST("/validate", handlers.Grade.ValidateGrade)
	}

	// ─── 2. WebSocket Group (connect rate limited) ─────────────────────
	ws := router.Group("/ws/v1")
	if connectLimiter != nil {
		ws.Use(connectLimiter.Middleware())
	}
	{
		ws.GET("/gradebook/stream", handlers.WS.GradebookWebSocketStream)
	}

	return router
}

package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin.Engine serving every route in spec.md §6,
// grouped and middleware-chained the way the teacher's NewRouter composes
// ObservabilityMiddleware/LoggingMiddleware/RateLimitMiddleware/
// CORSMiddleware around a single mux, translated into gin's route-group +
// middleware-stack idiom. metricsHandler is typically
// internal/metrics.Handler(); passing nil omits /metrics.
func (s *Server) NewRouter(metricsHandler http.Handler) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(s.logger))
	engine.Use(s.corsMiddleware())

	// ── Health / metrics ──
	engine.GET("/health", s.handleHealth)
	engine.GET("/health/live", s.handleLiveness)
	engine.GET("/health/ready", s.handleReadiness)
	if metricsHandler != nil {
		engine.GET("/metrics", gin.WrapH(metricsHandler))
	}

	api := engine.Group("/api")
	api.Use(s.rateLimitMiddleware())

	// ── Task lifecycle ──
	api.POST("/download", s.handleCreateTask)
	api.GET("/info", s.handleProbe)
	api.GET("/status/:id", s.handleGetStatus)
	api.GET("/progress/tasks/:id", s.handleGetProgress)
	api.GET("/download/:id", s.handleDownloadArtifact)
	api.POST("/cancel/:id", s.handleCancel)
	api.DELETE("/task/:id", s.handleDeleteTask)
	api.GET("/tasks", s.handleListTasks)

	// ── Optional, feature-gated ──
	api.GET("/subtitles", s.featureGateMiddleware("subtitles"), s.handleSubtitles)
	api.GET("/queue/stats", s.featureGateMiddleware("queue_stats"), s.handleQueueStats)

	// ── Auth (write endpoints; issue is itself the gate, revoke requires
	// a valid bearer) ──
	authGroup := api.Group("/auth")
	authGroup.POST("/issue-key", s.handleIssueKey)
	authGroup.POST("/revoke-key", s.authMiddleware(), s.handleRevokeKey)

	return engine
}

// corsMiddleware wires gin-contrib/cors from CORS_ORIGINS, warning (not
// failing) when "*" is configured, per spec.md §6.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			s.logger.Warn("CORS_ORIGINS includes \"*\": every origin is allowed")
			break
		}
	}
	cfg := cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	return cors.New(cfg)
}

package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	cerrors "github.com/yunfie-twitter/ytdlp-api/internal/errors"
	"github.com/yunfie-twitter/ytdlp-api/internal/logging"
)

const authRecordKey = "httpapi.authRecord"

// authMiddleware rejects requests whose bearer token doesn't verify.
// Only installed on routes the caller marks auth-gated; GET endpoints
// stay open per spec.md §6.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			s.writeError(c, cerrors.New(cerrors.KindAuth, "MISSING_TOKEN", nil))
			c.Abort()
			return
		}
		record, err := s.auth.Verify(c.Request.Context(), token)
		if err != nil {
			s.writeError(c, cerrors.New(cerrors.KindAuth, "TOKEN_INVALID", err))
			c.Abort()
			return
		}
		c.Set(authRecordKey, record)
		c.Next()
	}
}

// rateLimitMiddleware enforces RATE_LIMIT_PER_MINUTE per client IP via C2's
// atomic Incr. A coordination-store error fails open (SPEC_FULL §4.2's
// settled Open Question), logged at WARN rather than rejected.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.RateLimitPerMinute <= 0 {
			c.Next()
			return
		}
		ip := clientIP(c)
		count, err := s.queue.Incr(c.Request.Context(), "ratelimit:"+ip, time.Minute)
		if err != nil {
			s.logger.Warn("rate limit store unavailable, failing open: %v", err)
			c.Next()
			return
		}
		if count > int64(s.cfg.RateLimitPerMinute) {
			s.writeError(c, cerrors.New(cerrors.KindRateLimited, "RATE_LIMIT_EXCEEDED", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

func clientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}

// featureGateMiddleware rejects a disabled ENABLE_FEATURE_<name> endpoint
// with 403, per spec.md §6. This is a distinct concern from KindPathTraversal
// (which is reserved for actual traversal attempts and a WARN log), so it
// writes the envelope directly rather than routing through asAPIError.
func (s *Server) featureGateMiddleware(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.cfg.FeatureEnabled(name) {
			c.AbortWithStatusJSON(http.StatusForbidden, errorEnvelope{
				Error:     fmt.Sprintf("feature %q disabled", name),
				ErrorCode: "FEATURE_DISABLED",
			})
			return
		}
		c.Next()
	}
}

// loggingMiddleware emits one structured line per request, grounded on the
// teacher's LoggingMiddleware/ObservabilityMiddleware pairing.
func loggingMiddleware(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("%s %s status=%d latency=%s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

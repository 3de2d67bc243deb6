package gateway

import (
	"crypto/subtle"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hyperbola/sessiond/pkg/log"
	"github.com/hyperbola/sessiond/pkg/metrics"
	"github.com/hyperbola/sessiond/pkg/naming"
)

// requestLogger logs every request and feeds the API metrics. The
// route template, not the raw path, is the endpoint label so session
// UUIDs do not explode cardinality.
func (s *Server) requestLogger() gin.HandlerFunc {
	logger := log.WithComponent("gateway")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := c.Writer.Status()

		metrics.APIRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Msg("Request handled")
	}
}

// requireAPIKey authenticates via X-API-Key or a bearer token. The
// comparison is constant-time.
func (s *Server) requireAPIKey(c *gin.Context) {
	key := c.GetHeader("X-API-Key")
	if key == "" {
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			key = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if key == "" {
		c.AbortWithStatusJSON(401, gin.H{
			"error":   "API key required",
			"message": "Include X-API-Key header",
		})
		return
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
		c.AbortWithStatusJSON(403, gin.H{"error": "Invalid API key"})
		return
	}
	c.Next()
}

// rateLimit applies a sliding-window counter per caller IP and
// endpoint. A store failure lets the request through: the limiter
// protects capacity, it must not become an outage amplifier.
func (s *Server) rateLimit(endpoint string, max int64, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := naming.RateKey(callerIP(c), endpoint)

		n, err := s.store.Incr(ctx, key)
		if err != nil {
			c.Next()
			return
		}
		if n == 1 {
			if err := s.store.Expire(ctx, key, window); err != nil {
				c.Next()
				return
			}
		}
		if n > max {
			metrics.RateLimited.WithLabelValues(endpoint).Inc()
			c.AbortWithStatusJSON(429, gin.H{
				"error":       "Too many requests",
				"retry_after": int(window.Seconds()),
			})
			return
		}
		c.Next()
	}
}

// callerIP prefers the first hop of X-Forwarded-For, the address the
// ingress saw, over the immediate peer.
func callerIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return c.ClientIP()
}

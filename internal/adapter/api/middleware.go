package api

import (
	"crypto/subtle"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// rateLimit rejects submissions over the per-client quota. Limiter failures
// let the request through.
func (h *handler) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.opts.RateLimiter == nil {
			c.Next()
			return
		}
		ok, retryAfter, err := h.opts.RateLimiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			h.logger.Warn("rate limiter unavailable", "client_ip", c.ClientIP(), "error", err)
			c.Next()
			return
		}
		if !ok {
			secs := int(math.Ceil(retryAfter.Seconds()))
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": secs,
			})
			return
		}
		c.Next()
	}
}

func (h *handler) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.opts.AdminToken == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin API is disabled"})
			return
		}
		token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(token), []byte(h.opts.AdminToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}
		c.Next()
	}
}

package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/domainscan/internal/metrics"
	"github.com/osvaldoandrade/domainscan/internal/ratelimit"
	"github.com/osvaldoandrade/domainscan/pkg/config"
)

// RateLimitSubmit limits scan submissions per bearer token, or per client
// address for anonymous callers.
func RateLimitSubmit(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimit(lim, "submit", "create_scan", cfg.RateLimit.Submit)
}

func rateLimit(lim ratelimit.Limiter, scope string, operation string, bcfg config.RateLimitBucketConfig) gin.HandlerFunc {
	bucket := ratelimit.Bucket{RequestsPerMinute: bcfg.RequestsPerMinute, BurstSize: bcfg.BurstSize}
	return func(c *gin.Context) {
		if lim == nil || !bucket.Enabled() {
			c.Next()
			return
		}

		subject := bearerToken(c.GetHeader("Authorization"))
		if subject == "" {
			subject = "ip:" + c.ClientIP()
		}

		dec, err := lim.Allow(c.Request.Context(), scope, subject, bucket)
		if err != nil {
			// Fail open to avoid turning Redis hiccups into outages.
			slog.Default().Warn("rate limit check failed", "scope", scope, "op", operation, "err", err)
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(bucket.BurstSize))
		if dec.Allowed {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			c.Next()
			return
		}

		retryAfterSeconds := int(dec.RetryAfter.Seconds())
		if retryAfterSeconds <= 0 {
			retryAfterSeconds = 1
		}
		c.Header("X-RateLimit-Remaining", "0")
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		metrics.RateLimitHitsTotal.WithLabelValues(scope, operation).Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":             "rate limit exceeded",
			"scope":             scope,
			"operation":         operation,
			"retryAfterSeconds": retryAfterSeconds,
		})
	}
}

func bearerToken(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

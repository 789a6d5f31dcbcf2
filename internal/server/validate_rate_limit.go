package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/perks/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/perks/internal/observability/metrics"
	"go.uber.org/zap"
)

type validateRateLimitKey struct {
	UserID string `json:"user_id"`
}

// ValidateRateLimit throttles coupon validation per caller. Anonymous
// callers fall back to the client address so a single shopper hammering
// the cart cannot starve the endpoint.
func (s *Server) ValidateRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.validateLimiter == nil || !s.validateLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		caller, err := readValidateCaller(c)
		if err != nil {
			logger.FromContext(ctx).Warn("coupon validate rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if caller == "" {
			caller = c.ClientIP()
		}

		allowed, err := s.validateLimiter.Allow(ctx, caller)
		if err != nil {
			logger.FromContext(ctx).Warn("coupon validate rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !allowed {
			denyValidateRateLimit(c, endpoint, s.obsMetrics)
			return
		}

		recordRateLimitAllowed(ctx, endpoint, s.obsMetrics)
		c.Next()
	}
}

func denyValidateRateLimit(c *gin.Context, endpoint string, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("coupon validate rate limit exceeded",
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, "caller-rate", metrics)

	c.Header("Retry-After", "1")
	AbortWithError(c, ErrRateLimited)
}

func recordRateLimitAllowed(ctx context.Context, endpoint string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, endpoint, reason)
}

func readValidateCaller(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload validateRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}

	return strings.TrimSpace(payload.UserID), nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}

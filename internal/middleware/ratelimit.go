package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/138data/datagate-poc-sub000/internal/models"
	appErrors "github.com/138data/datagate-poc-sub000/pkg/errors"
	"github.com/138data/datagate-poc-sub000/pkg/ratelimit"
	"github.com/138data/datagate-poc-sub000/pkg/response"
)

type limiter interface {
	Allow(ctx context.Context, subjectKey string, cap int, window time.Duration) ratelimit.Decision
}

type rateAuditRecorder interface {
	Record(ctx context.Context, entry *models.AuditEntry)
}

type rateMetrics interface {
	ObserveRateLimited()
}

// RateLimit caps requests per client IP on the wrapped route. Rejections
// carry Retry-After style metadata and land in the audit trail.
func RateLimit(l limiter, audit rateAuditRecorder, metrics rateMetrics, route string, cap int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		decision := l.Allow(c.Request.Context(), route+":"+c.ClientIP(), cap, window)
		if decision.Allowed {
			c.Next()
			return
		}

		if metrics != nil {
			metrics.ObserveRateLimited()
		}
		if audit != nil {
			audit.Record(c.Request.Context(), &models.AuditEntry{
				Event:  models.AuditEventRateLimited,
				Actor:  c.ClientIP(),
				Reason: route,
				Status: models.AuditStatusBlocked,
			})
		}

		retryAfter := int(time.Until(decision.ResetAt).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		response.ErrorWithMeta(c, appErrors.ErrRateLimited, map[string]interface{}{
			"retry_after_seconds": retryAfter,
		})
		c.Abort()
	}
}

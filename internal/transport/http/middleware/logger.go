package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appLogger "github.com/arklim/zk-tenant-iam/internal/infra/logger"
)

// Logger emits access logs for every HTTP request with correlation identifiers and masked PII.
func Logger(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("trace_id", GetTraceID(c)),
			zap.String("request_id", appLogger.RequestIDFromContext(c.Request.Context())),
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", appLogger.MaskIP(c.ClientIP())),
		}
		if ua := c.Request.UserAgent(); ua != "" {
			fields = append(fields, zap.String("user_agent", ua))
		}
		if tenant := c.GetHeader(TenantHeader); tenant != "" {
			fields = append(fields, zap.String("tenant_id", tenant))
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
		case len(c.Errors) > 0:
			log.Info("request rejected", append(fields, zap.String("errors", c.Errors.String()))...)
		default:
			log.Info("request completed", fields...)
		}
	}
}
